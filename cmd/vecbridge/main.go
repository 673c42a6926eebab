// Command vecbridge is the c-shared entry point for the bridge library.
//
// Build the shared library and its header with:
//
//	go build -buildmode=c-shared -o libvecbridge.so ./cmd/vecbridge
package main

import (
	_ "github.com/hupe1980/vecbridge/capi"
)

func main() {}
