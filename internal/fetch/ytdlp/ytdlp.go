// Package ytdlp implements fetch.Fetcher on top of the yt-dlp command line tool.
package ytdlp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/italolelis/auto_ytdlp/internal/apperr"
	"github.com/italolelis/auto_ytdlp/internal/fetch"
	"github.com/italolelis/auto_ytdlp/internal/logctx"
)

const (
	defaultBinary = "yt-dlp"

	// yt-dlp may emit very long JSON-ish lines for some extractors.
	maxLineSize = 1024 * 1024

	// bounds how long Wait blocks on pipes held open by orphaned children
	waitDelay = 5 * time.Second
)

var _ fetch.Fetcher = (*Fetcher)(nil)

// Fetcher runs one yt-dlp process per Resolve or Fetch call.
type Fetcher struct {
	binary string
}

// New returns a Fetcher that runs binary. An empty binary means "yt-dlp" on PATH.
func New(binary string) *Fetcher {
	if binary == "" {
		binary = defaultBinary
	}

	return &Fetcher{binary: binary}
}

// Available reports whether the binary can be found.
func (f *Fetcher) Available() error {
	if _, err := exec.LookPath(f.binary); err != nil {
		return apperr.New(apperr.KindFile, "lookup_ytdlp", fmt.Sprintf("%s not found in PATH", f.binary), err)
	}

	return nil
}

// Version returns the output of yt-dlp --version.
func (f *Fetcher) Version(ctx context.Context) (string, error) {
	out, err := f.command(ctx, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get yt-dlp version: %w", err)
	}

	return strings.TrimSpace(string(out)), nil
}

// Resolve asks yt-dlp for the extractor, id and title of url without downloading it.
func (f *Fetcher) Resolve(ctx context.Context, url string, opts fetch.Options) (fetch.Info, error) {
	logger := logctx.LoggerFromContext(ctx).With("url", url)

	stderr := newOutputTail(logger)

	cmd := f.command(ctx, resolveArgs(url, opts)...)
	cmd.Stderr = stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return fetch.Info{}, fmt.Errorf("resolve %s: %w", url, ctx.Err())
		}

		return fetch.Info{}, classifyFailure(url, stderr.errorLine(), err)
	}

	info, ok := parseResolveOutput(string(out))
	if !ok {
		return fetch.Info{}, &fetch.Error{
			Kind:    apperr.KindParse,
			URL:     url,
			Message: fmt.Sprintf("unexpected resolve output %q", strings.TrimSpace(string(out))),
		}
	}

	logger.Debug("resolved content", "content_id", info.ContentID, "title", info.Title)

	return info, nil
}

// Fetch downloads req.URL, streaming progress to req.OnProgress. When the
// callback returns an error the process group is killed and the error is
// returned wrapped.
func (f *Fetcher) Fetch(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	logger := logctx.LoggerFromContext(ctx).With("url", req.URL)
	start := time.Now()

	stderr := newOutputTail(logger)

	cmd := f.command(ctx, fetchArgs(req.URL, req.Options)...)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fetch.Result{}, fmt.Errorf("failed to open yt-dlp stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fetch.Result{}, &fetch.Error{Kind: apperr.KindFile, URL: req.URL, Message: "failed to start yt-dlp", Err: err}
	}

	proc := &process{cmd: cmd}
	if req.OnStart != nil {
		req.OnStart(proc)
	}

	var (
		result   fetch.Result
		counter  byteCounter
		abortErr error
	)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()

		if p, ok := parseProgressLine(line); ok {
			result.Bytes = counter.observe(p.Downloaded)

			if req.OnProgress == nil || abortErr != nil {
				continue
			}

			if err := req.OnProgress(p); err != nil {
				abortErr = err

				if killErr := proc.Kill(); killErr != nil {
					logger.Warn("failed to kill yt-dlp", "pid", proc.Pid(), "err", killErr)
				}
			}

			continue
		}

		if name, ok := parseFilenameLine(line); ok {
			result.Filename = name

			continue
		}

		if line != "" {
			logger.Debug("yt-dlp", "line", line)
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Warn("failed to read yt-dlp output", "err", err)

		_, _ = io.Copy(io.Discard, stdout)
	}

	waitErr := cmd.Wait()
	result.Elapsed = time.Since(start)

	switch {
	case abortErr != nil:
		return result, fmt.Errorf("fetch %s aborted: %w", req.URL, abortErr)
	case ctx.Err() != nil:
		return result, fmt.Errorf("fetch %s: %w", req.URL, ctx.Err())
	case waitErr != nil:
		return result, classifyFailure(req.URL, stderr.errorLine(), waitErr)
	}

	return result, nil
}

func (f *Fetcher) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, f.binary, args...)
	configureProcess(cmd)

	cmd.Cancel = func() error {
		return killQuietly(cmd)
	}
	cmd.WaitDelay = waitDelay

	return cmd
}

func resolveArgs(url string, opts fetch.Options) []string {
	args := []string{
		"--simulate",
		"--no-playlist",
		"--print", resolveTemplate,
	}

	args = append(args, opts.ExtraArgs...)

	return append(args, "--", url)
}

func fetchArgs(url string, opts fetch.Options) []string {
	args := []string{
		"--newline",
		"--progress",
		"--no-playlist",
		"--progress-template", progressTemplate,
		"--print", "after_move:" + fileMarker + "%(filepath)s",
	}

	if opts.Format != "" {
		args = append(args, "-f", opts.Format)
	}

	if opts.OutputTemplate != "" {
		args = append(args, "-o", opts.OutputTemplate)
	}

	if opts.DownloadDir != "" {
		args = append(args, "-P", opts.DownloadDir)
	}

	if opts.RateLimit != "" {
		args = append(args, "--limit-rate", opts.RateLimit)
	}

	if opts.ArchiveFile != "" {
		args = append(args, "--download-archive", opts.ArchiveFile)
	}

	args = append(args, opts.ExtraArgs...)

	return append(args, "--", url)
}

// byteCounter sums downloaded bytes across the separate streams (video, audio)
// of one fetch; yt-dlp restarts its counter for each stream.
type byteCounter struct {
	base int64
	last int64
}

func (c *byteCounter) observe(downloaded int64) int64 {
	if downloaded < c.last {
		c.base += c.last
	}

	c.last = downloaded

	return c.base + downloaded
}

type process struct {
	cmd *exec.Cmd
}

func (p *process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}

	return p.cmd.Process.Pid
}

func (p *process) Kill() error {
	return killQuietly(p.cmd)
}

// killQuietly kills the process group, ignoring processes that already exited.
func killQuietly(cmd *exec.Cmd) error {
	err := killProcessGroup(cmd)
	if errors.Is(err, errProcessGone) {
		return nil
	}

	return err
}
