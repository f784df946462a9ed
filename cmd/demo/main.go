// Command demo exercises the core engine end to end: it parses a small
// Markdown document, forks it into two replicas, makes concurrent edits
// on each, sends alice's new operations to bob through the wire codec,
// and prints bob's merged document. It is not the document-store CLI
// (init/status/ingest/flush/sync) that a caller builds on top of this
// engine — that surface lives outside this module.
package main

import (
	"fmt"
	"log"

	"github.com/brunokim/mdcrdt/crdt"
	"github.com/brunokim/mdcrdt/edit"
	"github.com/brunokim/mdcrdt/markdown"
	"github.com/brunokim/mdcrdt/sync"
)

const seed = `---
title: Demo
---
# Notes

Hello world.
`

func main() {
	alice, err := markdown.Parse(1, seed)
	if err != nil {
		log.Fatalf("parse: %v", err)
	}

	bob := alice.Fork()
	bob.Peer = 2

	blk := alice.VisibleBlocks()[1] // "Hello world." paragraph

	if _, err := edit.InsertText(alice, blk.ID, 5, ", dear"); err != nil {
		log.Fatalf("alice edit: %v", err)
	}
	if _, err := edit.AddMarkRange(bob, blk.ID, crdt.Bold, 0, 5); err != nil {
		log.Fatalf("bob edit: %v", err)
	}

	// Encode only what alice has applied beyond bob's last-known state,
	// the way two long-offline replicas reconcile instead of replaying
	// full history.
	limits := sync.DefaultLimits()
	msgFromAlice := sync.EncodeChangesSince(alice, bob.SV)
	wire, err := sync.Encode(msgFromAlice)
	if err != nil {
		log.Fatalf("encode: %v", err)
	}
	decoded, err := sync.Decode(wire, limits)
	if err != nil {
		log.Fatalf("decode: %v", err)
	}

	buf := sync.NewBuffer(limits)
	result, err := buf.Apply(bob, decoded.Ops)
	if err != nil {
		log.Fatalf("apply: %v", err)
	}
	fmt.Printf("applied=%d buffered=%d conflicts=%d\n", result.Applied, result.Buffered, len(result.Conflicts))

	out, err := markdown.Render(bob, false)
	if err != nil {
		log.Fatalf("render: %v", err)
	}
	fmt.Print(out)
}
