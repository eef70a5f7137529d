package chrome

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"invoice-printer/internal/config"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Render.UserDataDir = filepath.Join(os.TempDir(), "invoice-printer-chrome-tests")
	cfg.Render.PageTimeout = time.Second
	return cfg
}

func TestCreateProfileDir_DefaultAndCustomBase(t *testing.T) {
	cfg := testConfig()
	cfg.Render.UserDataDir = ""
	dir1, err := createProfileDir(cfg)
	if err != nil {
		t.Fatalf("createProfileDir default base failed: %v", err)
	}
	defer os.RemoveAll(dir1)
	if _, err := os.Stat(dir1); err != nil {
		t.Fatalf("expected created dir to exist: %v", err)
	}

	customBase := t.TempDir()
	cfg.Render.UserDataDir = customBase
	dir2, err := createProfileDir(cfg)
	if err != nil {
		t.Fatalf("createProfileDir custom base failed: %v", err)
	}
	defer os.RemoveAll(dir2)
	if filepath.Dir(dir2) != customBase {
		t.Fatalf("expected profile dir under custom base %q, got %q", customBase, dir2)
	}
}

func TestCreateProfileDir_InvalidBase(t *testing.T) {
	cfg := testConfig()
	cfg.Render.UserDataDir = "/dev/null/x"
	if _, err := createProfileDir(cfg); err == nil {
		t.Fatalf("expected error for invalid base dir")
	}
}

func TestLaunch_MissingBinaryCleansUp(t *testing.T) {
	cfg := testConfig()
	base := t.TempDir()
	cfg.Render.UserDataDir = base
	cfg.Render.ChromePath = filepath.Join(base, "no-such-chrome")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := NewLauncher(cfg).Launch(ctx)
	if err == nil {
		_ = b.Close()
		t.Fatalf("expected launch to fail for a missing binary")
	}
	entries, _ := os.ReadDir(base)
	if len(entries) != 0 {
		t.Fatalf("expected profile dir removed after failed launch, found %d entries", len(entries))
	}
}

func TestBrowserClose_NilAndTwice(t *testing.T) {
	var b *Browser
	if err := b.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	b = &Browser{ctx: ctx, cancel: cancel, allocCancel: func() {}, profileDir: dir}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected profile dir removed, stat err = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestAllocatorOptions_Count(t *testing.T) {
	cfg := testConfig()
	base := len(NewLauncher(cfg).allocatorOptions("/tmp/x"))

	cfg.Render.ChromePath = "/usr/bin/chromium"
	cfg.Render.ChromeNoSandbox = true
	if got := len(NewLauncher(cfg).allocatorOptions("/tmp/x")); got != base+2 {
		t.Fatalf("expected exec path and no-sandbox options, got %d want %d", got, base+2)
	}
}

func TestPageViewportPixels(t *testing.T) {
	w, h := Page{Width: 8.5, Height: 11}.viewportPixels()
	if w != 816 || h != 1056 {
		t.Fatalf("unexpected viewport %dx%d", w, h)
	}
}

func TestIsSessionInterrupted(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "context canceled", err: context.Canceled, want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "target closed", err: errors.New("target closed"), want: true},
		{name: "normal error", err: errors.New("validation failed"), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsSessionInterrupted(tc.err); got != tc.want {
				t.Fatalf("IsSessionInterrupted(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
