package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/rs/xid"

	"invoice-printer/internal/config"
	"invoice-printer/internal/domain"
	"invoice-printer/internal/infra/logging"
)

var (
	printerNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.@:+\- ]{0,127}$`)
	lpJobIDPattern     = regexp.MustCompile(`request id is (\S+)`)
)

// Local prints through the OS spooler: lp on linux and darwin, PowerShell on
// windows.
type Local struct {
	tempDir string
	goos    string
	timeout time.Duration
	runner  CommandRunner
}

func NewLocal(cfg config.Config, runner CommandRunner) *Local {
	dir := cfg.Print.Local.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Local{
		tempDir: dir,
		goos:    runtime.GOOS,
		timeout: cfg.Print.Local.CommandTimeout,
		runner:  runner,
	}
}

// Print sends pdf to printer. It never returns an error; failures are in the
// result.
func (l *Local) Print(ctx context.Context, pdf []byte, printer string) domain.PrintResult {
	if err := writableDir(l.tempDir); err != nil {
		logging.Warn("Local printing unavailable", "temp_dir", l.tempDir, "error", err)
		return domain.PrintFailed("local printing is not available in this environment; download the document and print it manually")
	}
	if !printerNamePattern.MatchString(printer) {
		return domain.PrintFailed(fmt.Sprintf("invalid printer name %q", printer))
	}
	switch l.goos {
	case "linux", "darwin", "windows":
	default:
		logging.Warn("Local printing unsupported", "platform", l.goos)
		return domain.PrintFailed("local printing is not supported on " + l.goos)
	}

	path, err := l.writeTemp(pdf)
	if err != nil {
		logging.Error("Cannot write print file", "temp_dir", l.tempDir, "error", err)
		return domain.PrintFailed("could not prepare document for printing: " + err.Error())
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Warn("Cannot remove print file", "path", path, "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	name, args := l.command(path, printer)
	stdout, stderr, err := l.runner.Run(ctx, name, args...)
	if msg := strings.TrimSpace(string(stderr)); err != nil || msg != "" {
		if msg == "" {
			msg = err.Error()
		}
		logging.Error("Print command failed", "command", name, "args", args, "platform", l.goos, "printer", printer, "stderr", msg, "error", err)
		return domain.PrintFailed(fmt.Sprintf("printing to %s failed: %s", printer, msg))
	}

	if l.goos != "windows" {
		l.logPrinterStatus(ctx, printer)
	}

	var jobID string
	if m := lpJobIDPattern.FindStringSubmatch(string(stdout)); m != nil {
		jobID = m[1]
	}
	logging.Info("Document sent to local printer", "printer", printer, "job_id", jobID, "platform", l.goos)
	return domain.PrintSucceeded("document sent to printer "+printer, jobID)
}

// command builds the argv for the platform spooler.
func (l *Local) command(path, printer string) (string, []string) {
	if l.goos == "windows" {
		quote := func(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }
		script := fmt.Sprintf("Start-Process -FilePath %s -Verb PrintTo -ArgumentList %s", quote(path), quote(printer))
		return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", script}
	}
	return "lp", []string{"-d", printer, path}
}

func (l *Local) logPrinterStatus(ctx context.Context, printer string) {
	stdout, stderr, err := l.runner.Run(ctx, "lpstat", "-p", printer)
	if err != nil || len(stderr) > 0 {
		logging.Warn("Printer status unavailable", "printer", printer, "stderr", strings.TrimSpace(string(stderr)), "error", err)
		return
	}
	logging.Info("Printer status", "printer", printer, "status", strings.TrimSpace(string(stdout)))
}

func (l *Local) writeTemp(pdf []byte) (string, error) {
	f, err := os.CreateTemp(l.tempDir, "invoice-"+xid.New().String()+"-*.pdf")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(pdf); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// writableDir checks that dir exists and accepts new files.
func writableDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	tmp, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return err
	}
	tmp.Close()
	return os.Remove(tmp.Name())
}
