package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AccountDiff describes the post-execution changes to a single account within a StateDiff.
type AccountDiff struct {
	// Touched indicates the account was accessed at all during execution. Untouched entries are skipped entirely
	// when a diff is committed.
	Touched bool

	// Destroyed indicates the account was self-destructed or emptied; committing removes its account entry and all
	// of its storage.
	Destroyed bool

	// Created indicates the account was newly created during execution. Committing clears any storage left behind
	// by a previous occupant of the same address before applying this diff's own writes.
	Created bool

	// Balance describes the account's post-execution balance. A nil balance is treated as zero.
	Balance *uint256.Int

	// Nonce describes the account's post-execution nonce.
	Nonce uint64

	// Code describes the account's post-execution bytecode, if any.
	Code []byte

	// Storage describes the slots written during execution. A slot written to the zero value is removed from the
	// backing store rather than stored.
	Storage map[common.Hash]common.Hash
}

// StateDiff describes the set of account changes produced by executing a transaction, keyed by address. It is the
// unit of mutation the execution engine hands back to the state store after interpretation.
type StateDiff map[common.Address]*AccountDiff
