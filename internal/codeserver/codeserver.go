// Package codeserver is the external-collaborator stand-in for the
// loaded-module registry: given the in-memory structures a real .beam
// parser would produce, it answers the dispatcher's only two questions
// — "what code is at this MFA" and "pin this module's literals" —
// without implementing the parser itself.
package codeserver

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"beamrt/internal/heap"
	"beamrt/internal/term"
)

// MFA identifies a callable by module, function, and arity.
type MFA struct {
	Module   term.Term
	Function term.Term
	Arity    int
}

// LambdaEntry describes one make_fun2 target as recorded in a module's
// lambda table: the entry label (already resolved, unlike an MFA export
// target) and frozen-variable count. Function and TotalArity exist only
// for diagnostics (badfun display) and the closure's own arity check,
// since a fun's call target is addressed directly by code offset, not
// by a late MFA lookup.
type LambdaEntry struct {
	EntryLabel uint64
	NFrozen    int
	Function   term.Term
	TotalArity int
}

// Module is the in-memory form a loader produces: a code array, a
// pinned literal heap, and the three lookup tables the dispatcher and
// call gateways need.
type Module struct {
	Name     term.Term
	Code     []term.Term
	Literals *heap.Heap
	Exports  map[funKey]uint64 // function/arity -> code index
	Imports  []MFA
	Lambdas  []LambdaEntry
	Version  uint64
}

type funKey struct {
	function term.Term
	arity    int
}

func NewModule(name term.Term, code []term.Term, literalWords int) *Module {
	return &Module{
		Name:     name,
		Code:     code,
		Literals: heap.New(literalWords),
		Exports:  make(map[funKey]uint64),
	}
}

func (m *Module) AddExport(function term.Term, arity int, codeIdx uint64) {
	m.Exports[funKey{function, arity}] = codeIdx
}

// AddImport appends an MFA to the module's import table, returning its
// index for use as a call_ext/call_ext_only/call_ext_last operand.
func (m *Module) AddImport(mfa MFA) int {
	m.Imports = append(m.Imports, mfa)
	return len(m.Imports) - 1
}

// AddLambda appends a make_fun2 target, returning its index.
func (m *Module) AddLambda(entry LambdaEntry) int {
	m.Lambdas = append(m.Lambdas, entry)
	return len(m.Lambdas) - 1
}

func (m *Module) resolveLocal(function term.Term, arity int) (uint64, bool) {
	idx, ok := m.Exports[funKey{function, arity}]
	return idx, ok
}

// Server is the process-wide, append-only module registry. A reload
// replaces a module atomically; processes already executing inside the
// old version keep running it until they return, matching the shared-
// resource note in the concurrency model.
type Server struct {
	mu      sync.RWMutex
	modules map[term.Term]*Module

	group singleflight.Group // collapses concurrent misses on the same MFA
}

func New() *Server {
	return &Server{modules: make(map[term.Term]*Module)}
}

// Load installs or replaces a module, bumping its version counter if
// one by that name already existed (the hot-reload placeholder named in
// the non-goals: a counter only, no code purging of in-flight callers).
func (s *Server) Load(m *Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.modules[m.Name]; ok {
		m.Version = old.Version + 1
	}
	s.modules[m.Name] = m
}

func (s *Server) module(name term.Term) (*Module, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[name]
	return m, ok
}

// ModuleByName exposes the latest version of a loaded module, used by
// the dispatcher to fetch a module's code array, literal heap, import
// table, and lambda table once it already knows which module it is
// executing (tracked on the runtime context, not re-derived from the
// code pointer).
func (s *Server) ModuleByName(name term.Term) (*Module, bool) {
	return s.module(name)
}

// Resolve looks up an MFA's code index in its module's latest version.
// Concurrent resolves of the same not-yet-warm MFA (possible once
// multiple processes call into a module for the first time in the same
// tick) are collapsed into one lookup via singleflight, mirroring the
// loader's own cache-with-mutex pattern one layer up.
func (s *Server) Resolve(mfa MFA) (codeIdx uint64, code []term.Term, ok bool) {
	key := mfaKey(mfa)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		m, found := s.module(mfa.Module)
		if !found {
			return resolveResult{}, nil
		}
		idx, found := m.resolveLocal(mfa.Function, mfa.Arity)
		if !found {
			return resolveResult{}, nil
		}
		return resolveResult{idx: idx, code: m.Code, ok: true}, nil
	})
	if err != nil {
		return 0, nil, false
	}
	r := v.(resolveResult)
	return r.idx, r.code, r.ok
}

type resolveResult struct {
	idx  uint64
	code []term.Term
	ok   bool
}

func mfaKey(mfa MFA) string {
	return fmt.Sprintf("%d:%d/%d", term.AsAtomIndex(mfa.Module), term.AsAtomIndex(mfa.Function), mfa.Arity)
}

// Lambda returns the nth lambda-table entry of a module, used by
// make_fun2 to find the entry label for a freshly captured closure.
func (s *Server) Lambda(module term.Term, idx int) (LambdaEntry, bool) {
	m, ok := s.module(module)
	if !ok || idx < 0 || idx >= len(m.Lambdas) {
		return LambdaEntry{}, false
	}
	return m.Lambdas[idx], true
}
