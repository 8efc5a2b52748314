package parser

import (
	"testing"

	"github.com/standardbeagle/ldg/internal/types"
)

func findImport(t *testing.T, imports []types.Import, module string) types.Import {
	t.Helper()
	for _, imp := range imports {
		if imp.Module == module {
			return imp
		}
	}
	t.Fatalf("import %q not found in %v", module, imports)
	return types.Import{}
}

func TestParseJavaScriptImportForms(t *testing.T) {
	p := New()
	content := []byte(`import fs from 'fs';
import { join } from './paths';
export { helper } from './helper';
const legacy = require('./legacy');
async function load() {
	const mod = await import('./dynamic');
	return mod;
}
`)

	imports, err := p.Parse(content, "/ws/app.js")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(imports) != 5 {
		t.Fatalf("expected 5 imports, got %d: %v", len(imports), imports)
	}

	if imp := findImport(t, imports, "fs"); imp.Kind != types.ImportStatic {
		t.Errorf("fs: expected static import, got %s", imp.Kind)
	}
	if imp := findImport(t, imports, "./paths"); imp.Kind != types.ImportStatic || imp.Line != 2 {
		t.Errorf("./paths: expected static import on line 2, got %s line %d", imp.Kind, imp.Line)
	}
	if imp := findImport(t, imports, "./helper"); imp.Kind != types.ImportReExport {
		t.Errorf("./helper: expected re-export, got %s", imp.Kind)
	}
	if imp := findImport(t, imports, "./legacy"); imp.Kind != types.ImportRequire {
		t.Errorf("./legacy: expected require, got %s", imp.Kind)
	}
	if imp := findImport(t, imports, "./dynamic"); imp.Kind != types.ImportDynamic {
		t.Errorf("./dynamic: expected dynamic import, got %s", imp.Kind)
	}
}

func TestParseTypeScriptTypeOnlyImport(t *testing.T) {
	p := New()
	content := []byte(`import type { Config } from './config';
import { run } from './runner';
`)

	imports, err := p.Parse(content, "/ws/main.ts")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if imp := findImport(t, imports, "./config"); !imp.TypeOnly {
		t.Error("./config should be type-only")
	}
	if imp := findImport(t, imports, "./runner"); imp.TypeOnly {
		t.Error("./runner should not be type-only")
	}
}

func TestParseNonLiteralRequireSkipped(t *testing.T) {
	p := New()
	content := []byte(`const name = './a';
const mod = require(name);
const ok = require('./b');
`)

	imports, err := p.Parse(content, "/ws/dyn.js")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(imports) != 1 || imports[0].Module != "./b" {
		t.Fatalf("expected only ./b, got %v", imports)
	}
}

func TestParsePythonImports(t *testing.T) {
	p := New()
	content := []byte(`import os
import json as j
from .sibling import thing
from ..pkg.mod import other
from utils import helper
`)

	imports, err := p.Parse(content, "/ws/app.py")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	findImport(t, imports, "os")
	findImport(t, imports, "json")
	findImport(t, imports, ".sibling")
	findImport(t, imports, "..pkg.mod")
	findImport(t, imports, "utils")
}

func TestParseGoImports(t *testing.T) {
	p := New()
	content := []byte(`package main

import (
	"fmt"
	"os"

	"github.com/example/dep"
)
`)

	imports, err := p.Parse(content, "/ws/main.go")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(imports) != 3 {
		t.Fatalf("expected 3 imports, got %d: %v", len(imports), imports)
	}
	findImport(t, imports, "fmt")
	findImport(t, imports, "github.com/example/dep")
}

func TestParseRustImports(t *testing.T) {
	p := New()
	content := []byte(`mod config;
mod inline { fn x() {} }

use crate::config::Settings;
use serde::Deserialize;

fn main() {}
`)

	imports, err := p.Parse(content, "/ws/src/main.rs")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	findImport(t, imports, "config")
	findImport(t, imports, "serde")
	for _, imp := range imports {
		if imp.Module == "inline" {
			t.Error("inline mod should not produce an import")
		}
	}
}

func TestParseUnsupportedExtension(t *testing.T) {
	p := New()
	if _, err := p.Parse([]byte("hello"), "/ws/readme.md"); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
	if p.Supports(".md") {
		t.Error(".md should not be supported")
	}
	if !p.Supports(".ts") {
		t.Error(".ts should be supported")
	}
}

func TestParseSameContentIsDeterministic(t *testing.T) {
	p := New()
	content := []byte(`import { a } from './a';
import { b } from './b';
`)

	first, err := p.Parse(content, "/ws/x.ts")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	second, err := p.Parse(content, "/ws/x.ts")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("import counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("import %d differs: %v vs %v", i, first[i], second[i])
		}
	}
}
