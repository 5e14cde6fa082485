package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	c, err := Parse([]byte("aliases:\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !c.Usage() {
		t.Fatal("usage reporting should default to enabled")
	}
	if len(c.Trusted()) != 3 {
		t.Fatalf("expected default trusted libraries, got %v", c.Trusted())
	}
	if c.CacheSize() != 16 || c.ThreadLimit() != 4096 {
		t.Fatalf("unexpected defaults: cache %d threads %d", c.CacheSize(), c.ThreadLimit())
	}
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
solib-search-path: /opt/sgx/lib64
usage-reporting: false
trusted-libraries: ["libfoo.so"]
section-cache-size: 4
section-reader: elf
max-threads: 8
aliases:
  enclaves: ["ls"]
`))
	if err != nil {
		t.Fatal(err)
	}
	if c.SolibSearchPath != "/opt/sgx/lib64" || c.Usage() || c.Trusted()[0] != "libfoo.so" {
		t.Fatalf("wrong config %#v", c)
	}
	if c.CacheSize() != 4 || c.ThreadLimit() != 8 || c.SectionReader != SectionReaderELF {
		t.Fatalf("wrong config %#v", c)
	}
	if c.Aliases["enclaves"][0] != "ls" {
		t.Fatalf("wrong aliases %v", c.Aliases)
	}

	if _, err := Parse([]byte("section-reader: objdump\n")); err == nil {
		t.Fatal("expected error for unknown section reader")
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir, err := ioutil.TempDir("", "sgxdbg-config")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	os.Setenv("SGXDBG_CONFIG_DIR", dir)
	defer os.Unsetenv("SGXDBG_CONFIG_DIR")

	c, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if !c.Usage() {
		t.Fatal("default config should enable usage reporting")
	}
	if _, err := os.Stat(filepath.Join(dir, configFile)); err != nil {
		t.Fatalf("default config file not created: %v", err)
	}

	off := false
	c.UsageReporting = &off
	if err := SaveConfig(c); err != nil {
		t.Fatal(err)
	}
	c, err = LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if c.Usage() {
		t.Fatal("saved setting was not read back")
	}
}
