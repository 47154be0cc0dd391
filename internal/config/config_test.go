package config

import (
	"flag"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/justincjohnson/lumen"
)

func Test_Config_Defaults(t *testing.T) {
	for _, k := range []string{EnvSchedulers, EnvMinHeap, EnvMaxHeap, EnvInit, EnvLogLevel, EnvDebug} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.Schedulers < 1 || c.MinHeapSize != lumen.MinHeapSize || c.MaxHeapSize != 0 {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if c.InitMFA != lumen.DefaultInitMFA || c.LogLevel != zapcore.InfoLevel || c.Debug {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func Test_Config_Environment(t *testing.T) {
	t.Setenv(EnvSchedulers, "3")
	t.Setenv(EnvMinHeap, "1000")
	t.Setenv(EnvMaxHeap, "5000")
	t.Setenv(EnvInit, "app:main/0")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvHistory, "/tmp/h")

	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.Schedulers != 3 || c.MinHeapSize != 1000 || c.MaxHeapSize != 5000 || c.HistoryFile != "/tmp/h" {
		t.Fatalf("environment not applied: %+v", c)
	}
	if c.InitMFA != (lumen.MFA{Module: "app", Function: "main"}) || c.LogLevel != zapcore.WarnLevel {
		t.Fatalf("environment not applied: %+v", c)
	}
}

func Test_Config_LoadSeesEnvironmentChanges(t *testing.T) {
	t.Setenv(EnvSchedulers, "2")
	t.Setenv(EnvLogLevel, "warn")
	first, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if first.Schedulers != 2 || first.LogLevel != zapcore.WarnLevel {
		t.Fatalf("environment not applied: %+v", first)
	}

	t.Setenv(EnvSchedulers, "5")
	t.Setenv(EnvLogLevel, "error")
	second, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if second.Schedulers != 5 || second.LogLevel != zapcore.ErrorLevel {
		t.Fatalf("later Load should see the changed environment: %+v", second)
	}
}

func Test_Config_DebugForcesDebugLevel(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvDebug, "1")
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if !c.Debug || c.LogLevel != zapcore.DebugLevel {
		t.Fatalf("debug mode should force the debug level: %+v", c)
	}
	log, err := c.Logger()
	if err != nil {
		t.Fatal(err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("logger should emit debug entries")
	}
}

func Test_Config_BadEnvironment(t *testing.T) {
	t.Setenv(EnvInit, "nonsense")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), EnvInit) {
		t.Fatalf("want an %s error, got %v", EnvInit, err)
	}
	t.Setenv(EnvInit, "app:main/0")
	t.Setenv(EnvLogLevel, "loud")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), EnvLogLevel) {
		t.Fatalf("want an %s error, got %v", EnvLogLevel, err)
	}
}

func Test_Config_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv(EnvSchedulers, "2")
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)
	if err := fs.Parse([]string{"-schedulers", "5", "-init", "boot:go/1", "-log-level", "debug", "a.lisp"}); err != nil {
		t.Fatal(err)
	}
	if c.Schedulers != 5 || c.InitMFA != (lumen.MFA{Module: "boot", Function: "go", Arity: 1}) || c.LogLevel != zapcore.DebugLevel {
		t.Fatalf("flags not applied: %+v", c)
	}
	if fs.NArg() != 1 || fs.Arg(0) != "a.lisp" {
		t.Fatalf("positional arguments lost: %v", fs.Args())
	}
	if err := fs.Parse([]string{"-init", "bad"}); err == nil {
		t.Fatal("a malformed -init should be rejected")
	}
}

func Test_Config_ValidateJoinsErrors(t *testing.T) {
	c := &Config{Schedulers: 0, MinHeapSize: 1000, MaxHeapSize: 500}
	err := c.Validate()
	if err == nil {
		t.Fatal("want an error")
	}
	for _, want := range []string{"schedulers", "does not fit", "init entry point"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}
