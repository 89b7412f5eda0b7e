// Package publish mirrors the generated site to the web server.
package publish

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gameshelf/internal/config"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Result describes a finished transfer
type Result struct {
	Method      string        `json:"method"`
	Destination string        `json:"destination"`
	Transferred []string      `json:"transferred"`
	Deleted     []string      `json:"deleted,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// TransferError is returned when the transfer tool exits unsuccessfully
type TransferError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Tool)
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Runner executes an external command
type Runner interface {
	Run(ctx context.Context, name string, args []string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Option customises a Publisher
type Option func(*Publisher)

// WithRunner replaces the command runner
func WithRunner(r Runner) Option {
	return func(p *Publisher) { p.runner = r }
}

// WithLookPath replaces the executable lookup
func WithLookPath(fn func(string) (string, error)) Option {
	return func(p *Publisher) { p.lookPath = fn }
}

// Publisher copies an output directory to the configured destination
type Publisher struct {
	cfg      config.PublishConfig
	logger   *logrus.Logger
	runner   Runner
	lookPath func(string) (string, error)
}

// NewPublisher validates the destination and returns a publisher for it
func NewPublisher(cfg config.PublishConfig, logger *logrus.Logger, opts ...Option) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	p := &Publisher{
		cfg:      cfg,
		logger:   logger,
		runner:   execRunner{},
		lookPath: exec.LookPath,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish transfers the contents of localDir. The local directory is never
// modified, whether or not the transfer succeeds.
func (p *Publisher) Publish(ctx context.Context, localDir string) (*Result, error) {
	info, err := os.Stat(localDir)
	if err != nil {
		return nil, errors.Wrap(err, "output directory unavailable")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("%s is not a directory", localDir)
	}

	var keyPath string
	if p.cfg.IsRemote() {
		key, cleanup, err := PrepareKey(p.cfg.CredentialPath)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		keyPath = key.Path
		p.logger.WithFields(logrus.Fields{
			"key":          p.cfg.CredentialPath,
			"fingerprint":  key.Fingerprint,
			"private_copy": key.Path != p.cfg.CredentialPath,
		}).Debug("Using ssh key")
	}

	started := time.Now()
	var res *Result
	switch p.cfg.Method {
	case "scp":
		res, err = p.scp(ctx, localDir, keyPath)
	default:
		res, err = p.rsync(ctx, localDir, keyPath)
	}
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(started)

	p.logger.WithFields(logrus.Fields{
		"method":      res.Method,
		"destination": res.Destination,
		"transferred": len(res.Transferred),
		"deleted":     len(res.Deleted),
		"duration":    res.Duration.Round(time.Millisecond),
	}).Info("Published collection")
	return res, nil
}

func (p *Publisher) rsync(ctx context.Context, localDir, keyPath string) (*Result, error) {
	bin, err := p.tool(p.cfg.RsyncPath, "rsync")
	if err != nil {
		return nil, err
	}
	args, err := p.rsyncArgs(localDir, keyPath)
	if err != nil {
		return nil, err
	}
	if !p.cfg.IsRemote() {
		if err := os.MkdirAll(p.cfg.BasePath, 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create destination")
		}
	}

	stdout, err := p.run(ctx, bin, args)
	if err != nil {
		return nil, err
	}

	transferred, deleted := ParseItemized(stdout)
	return &Result{
		Method:      "rsync",
		Destination: p.cfg.Destination(),
		Transferred: transferred,
		Deleted:     deleted,
	}, nil
}

func (p *Publisher) rsyncArgs(localDir, keyPath string) ([]string, error) {
	args := []string{"-rtz", "--checksum", "--delete", "--itemize-changes"}

	if p.cfg.IsRemote() {
		sshBin, err := p.tool(p.cfg.SSHPath, "ssh")
		if err != nil {
			return nil, err
		}
		sshCmd := []string{sshBin, "-i", keyPath, "-p", strconv.Itoa(p.cfg.Port)}
		for _, opt := range p.cfg.SSHOptions {
			sshCmd = append(sshCmd, "-o", opt)
		}
		args = append(args, "-e", shellquote.Join(sshCmd...))
	}

	extra, err := shellquote.Split(p.cfg.ExtraArgs)
	if err != nil {
		return nil, errors.Wrap(err, "invalid extra_args")
	}
	args = append(args, extra...)

	return append(args, withSlash(localDir), withSlash(p.cfg.Destination())), nil
}

// scp copies everything on every run. There is no way to learn what changed
// so every local file counts as transferred and nothing is deleted.
func (p *Publisher) scp(ctx context.Context, localDir, keyPath string) (*Result, error) {
	bin, err := p.tool(p.cfg.SCPPath, "scp")
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(localDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list output directory")
	}
	if len(entries) == 0 {
		return &Result{Method: "scp", Destination: p.cfg.Destination()}, nil
	}

	args := []string{"-r", "-p"}
	if p.cfg.IsRemote() {
		args = append(args, "-i", keyPath, "-P", strconv.Itoa(p.cfg.Port))
		for _, opt := range p.cfg.SSHOptions {
			args = append(args, "-o", opt)
		}
	}
	extra, err := shellquote.Split(p.cfg.ExtraArgs)
	if err != nil {
		return nil, errors.Wrap(err, "invalid extra_args")
	}
	args = append(args, extra...)
	for _, e := range entries {
		args = append(args, filepath.Join(localDir, e.Name()))
	}
	args = append(args, withSlash(p.cfg.Destination()))

	if !p.cfg.IsRemote() {
		if err := os.MkdirAll(p.cfg.BasePath, 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create destination")
		}
	}

	if _, err := p.run(ctx, bin, args); err != nil {
		return nil, err
	}

	files, err := listFiles(localDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list output directory")
	}
	return &Result{Method: "scp", Destination: p.cfg.Destination(), Transferred: files}, nil
}

func (p *Publisher) run(ctx context.Context, bin string, args []string) ([]byte, error) {
	p.logger.WithFields(logrus.Fields{
		"command": bin,
		"args":    shellquote.Join(args...),
	}).Debug("Running transfer")

	stdout, stderr, err := p.runner.Run(ctx, bin, args)
	if err == nil {
		return stdout, nil
	}

	terr := &TransferError{
		Tool:     filepath.Base(bin),
		ExitCode: -1,
		Stderr:   strings.TrimSpace(string(stderr)),
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		terr.ExitCode = exitErr.ExitCode()
	}
	return nil, terr
}

// tool resolves an executable, preferring the configured path
func (p *Publisher) tool(configured, name string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	// Handheld firmwares ship OpenSSH outside the default PATH.
	candidates := []string{name, "/usr/bin/" + name, "/opt/openssh/bin/" + name}
	for _, c := range candidates {
		if path, err := p.lookPath(c); err == nil {
			return path, nil
		}
	}
	return "", errors.Errorf("%s not found in PATH. Please install %s", name, name)
}

// ParseItemized extracts transferred and deleted file names from
// rsync --itemize-changes output. Directories and attribute-only updates
// are ignored.
func ParseItemized(out []byte) (transferred, deleted []string) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		code, name, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		name = strings.TrimLeft(name, " ")
		if name == "" {
			continue
		}

		switch {
		case code == "*deleting":
			if !strings.HasSuffix(name, "/") {
				deleted = append(deleted, name)
			}
		case len(code) >= 2 && (code[0] == '<' || code[0] == '>') && code[1] == 'f':
			transferred = append(transferred, name)
		}
	}
	return transferred, deleted
}

func withSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(files)
	return files, err
}
