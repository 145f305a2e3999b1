package vncgw

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAddMappingReturnsExistingTokenForSameTarget(t *testing.T) {
	dir := t.TempDir()
	g := New(filepath.Join(dir, "websockify.cfg"), "127.0.0.1:0", "")

	tok1, err := g.AddMapping("127.0.0.1", 5901, "")
	if err != nil {
		t.Fatalf("AddMapping: %v", err)
	}
	tok2, err := g.AddMapping("127.0.0.1", 5901, "")
	if err != nil {
		t.Fatalf("AddMapping (repeat): %v", err)
	}
	if tok1 != tok2 {
		t.Errorf("AddMapping for same ip:port returned different tokens: %q vs %q", tok1, tok2)
	}
}

func TestAddMappingPersistsAndLoadRestores(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "websockify.cfg")

	g1 := New(cfgPath, "127.0.0.1:0", "")
	tok, err := g1.AddMapping("10.0.0.5", 5902, "")
	if err != nil {
		t.Fatalf("AddMapping: %v", err)
	}

	g2 := New(cfgPath, "127.0.0.1:0", "")
	if err := g2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	g2.mu.Lock()
	target, ok := g2.targets[tok]
	g2.mu.Unlock()
	if !ok {
		t.Fatalf("Load did not restore token %q", tok)
	}
	if target != "10.0.0.5:5902" {
		t.Errorf("restored target = %q, want 10.0.0.5:5902", target)
	}
}

func TestDeleteMappingRemovesAndPersists(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "websockify.cfg")
	g := New(cfgPath, "127.0.0.1:0", "")

	tok, err := g.AddMapping("127.0.0.1", 5901, "")
	if err != nil {
		t.Fatalf("AddMapping: %v", err)
	}
	if err := g.DeleteMapping(tok); err != nil {
		t.Fatalf("DeleteMapping: %v", err)
	}

	g.mu.Lock()
	_, ok := g.targets[tok]
	g.mu.Unlock()
	if ok {
		t.Error("token still present after DeleteMapping")
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if strings.Contains(string(data), tok) {
		t.Error("deleted token still present in persisted config file")
	}
}

func TestConfigFileFormatIsLineOriented(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "websockify.cfg")
	g := New(cfgPath, "127.0.0.1:0", "")

	tok, err := g.AddMapping("127.0.0.1", 5901, "fixed-token")
	if err != nil {
		t.Fatalf("AddMapping: %v", err)
	}
	if tok != "fixed-token" {
		t.Fatalf("AddMapping with explicit token = %q, want fixed-token", tok)
	}

	f, err := os.Open(cfgPath)
	if err != nil {
		t.Fatalf("open config: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 1 {
		t.Fatalf("config file has %d lines, want 1", len(lines))
	}
	if lines[0] != "fixed-token: 127.0.0.1:5901" {
		t.Errorf("config line = %q, want %q", lines[0], "fixed-token: 127.0.0.1:5901")
	}
}

func TestStartAndStop(t *testing.T) {
	dir := t.TempDir()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve addr: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	g := New(filepath.Join(dir, "websockify.cfg"), addr, "")
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := g.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
