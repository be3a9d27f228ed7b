package main

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/pmikstacki/bsharp-sub005/internal/format"
	"github.com/pmikstacki/bsharp-sub005/internal/testutil"
	"github.com/pmikstacki/bsharp-sub005/internal/view"
)

func init() {
	color.NoColor = true
}

// captureOutput captures stdout while running fn
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w
	color.Output = w

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout
	color.Output = origStdout

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	return buf.String(), fnErr
}

func withJSON(t *testing.T) {
	t.Helper()
	jsonOut = true
	t.Cleanup(func() { jsonOut = false })
}

func assertContains(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing expected string %q\nGot: %s", want, output)
		}
	}
}

func fixture(t *testing.T) string {
	t.Helper()
	im := testutil.Minimal()
	im.Blob(make([]byte, 2048))
	return testutil.WriteTemp(t, "app.dll", im.Build())
}

func TestInfo(t *testing.T) {
	path := fixture(t)
	out, err := captureOutput(t, func() error { return runInfo([]string{path}) })
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	assertContains(t, out, []string{"PE32", ".text", "MethodDef #1", "v4.0.30319"})
}

func TestInfoJSON(t *testing.T) {
	withJSON(t)
	path := fixture(t)
	out, err := captureOutput(t, func() error { return runInfo([]string{path}) })
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	var info assemblyInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if info.Format != "PE32" || len(info.Sections) != 1 || info.EntryPoint != 0x06000001 {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestStreamsDumpsHeaps(t *testing.T) {
	path := fixture(t)
	streamsDumpStrings, streamsDumpUS = true, true
	t.Cleanup(func() { streamsDumpStrings, streamsDumpUS = false, false })

	out, err := captureOutput(t, func() error { return runStreams([]string{path}) })
	if err != nil {
		t.Fatalf("streams: %v", err)
	}
	assertContains(t, out, []string{"#~", "#Strings", "#US", `"Program"`, `"Hi"`})
}

func TestTables(t *testing.T) {
	withJSON(t)
	path := fixture(t)
	out, err := captureOutput(t, func() error { return runTables([]string{path, "TypeDef"}) })
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	var rows []tableRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(rows) != 2 || rows[1].RID != 2 {
		t.Errorf("rows = %+v", rows)
	}

	if _, err := captureOutput(t, func() error { return runTables([]string{path, "Bogus"}) }); err == nil {
		t.Error("expected error for unknown table")
	}
}

func TestPlanJSON(t *testing.T) {
	withJSON(t)
	path := fixture(t)
	planEdits = editFlags{strings: []string{"Patched"}, imports: []string{"kernel32.dll!GetTickCount"}}
	t.Cleanup(func() { planEdits = editFlags{} })

	out, err := captureOutput(t, func() error { return runPlan([]string{path}) })
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	var res planOutput
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if res.ImportRVA == nil {
		t.Error("import table not allocated")
	}
	if n := len(res.Sections); n != 2 || res.Sections[n-1].Name != ".meta" {
		t.Errorf("sections = %+v", res.Sections)
	}
}

func TestRewrite(t *testing.T) {
	in := fixture(t)
	out := in + ".patched"
	rewriteEdits = editFlags{
		userStrings: []string{"Hello"},
		exports:     []string{"Entry@1=0x2000"},
	}
	t.Cleanup(func() { rewriteEdits = editFlags{} })

	text, err := captureOutput(t, func() error { return runRewrite([]string{in, out}) })
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	assertContains(t, text, []string{"wrote"})

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	v, err := view.Parse(data)
	if err != nil {
		t.Fatalf("output does not parse: %v", err)
	}
	if dir, ok := v.DataDirectory(format.DirExport); !ok || dir.RVA == 0 {
		t.Errorf("export directory = %+v", dir)
	}
	if !bytes.Contains(v.StreamData(format.StreamUserStrings), []byte{'H', 0, 'e', 0, 'l', 0, 'l', 0, 'o', 0}) {
		t.Error("user string not in #US")
	}
}

func TestBadEditSpecs(t *testing.T) {
	path := fixture(t)
	for _, e := range []editFlags{
		{imports: []string{"kernel32.dll"}},
		{imports: []string{"kernel32.dll#x"}},
		{exports: []string{"Entry"}},
		{exports: []string{"Entry@1"}},
		{exports: []string{"Entry@1=zz"}},
		{deleteMethods: []uint{9}},
	} {
		planEdits = e
		if _, err := captureOutput(t, func() error { return runPlan([]string{path}) }); err == nil {
			t.Errorf("expected error for %+v", e)
		}
	}
	planEdits = editFlags{}
}

func TestVersionJSON(t *testing.T) {
	withJSON(t)
	out, err := captureOutput(t, func() error { return versionCmd.RunE(versionCmd, nil) })
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var v versionInfo
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if v.Version == "" || v.Go == "" {
		t.Errorf("incomplete version info: %+v", v)
	}
}
