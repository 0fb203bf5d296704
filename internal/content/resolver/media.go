package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"funbot/internal/content"
	logx "funbot/pkg/logx"
)

// MediaConfig controls the second stage of audio fetches.
type MediaConfig struct {
	// TempDir holds downloads; empty means os.TempDir().
	TempDir string
	// Transcode is an optional argv run after download. "{in}" and "{out}"
	// are replaced with the downloaded and target file paths.
	Transcode []string
	// OutputExt is the extension of the transcoded file, e.g. ".ogg".
	OutputExt string
}

// fetchMedia downloads res.URL into a temp file, optionally transcodes it,
// and returns the bytes as an audio result. Temp files are removed on every
// path.
func (r *Resolver) fetchMedia(ctx context.Context, res content.Result) (content.Result, error) {
	in, err := os.CreateTemp(r.media.TempDir, "funbot-media-*"+extOf(res.URL))
	if err != nil {
		return content.Result{}, fmt.Errorf("media temp file: %w", err)
	}
	inPath := in.Name()
	defer func() { _ = os.Remove(inPath) }()

	n, _, err := r.fetch.Download(ctx, res.URL, in)
	if cerr := in.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return content.Result{}, err
	}

	outPath := inPath
	if len(r.media.Transcode) > 0 {
		outPath = strings.TrimSuffix(inPath, filepath.Ext(inPath)) + ".out" + r.outputExt()
		defer func() { _ = os.Remove(outPath) }()
		if err := r.transcode(ctx, inPath, outPath); err != nil {
			return content.Result{}, err
		}
	}

	b, err := os.ReadFile(outPath)
	if err != nil {
		return content.Result{}, fmt.Errorf("read media: %w", err)
	}
	if len(b) == 0 {
		return content.Result{}, errors.New("media file is empty")
	}
	r.log.Debug("media downloaded", logx.String("url", res.URL), logx.Int64("bytes", n), logx.Int("out_bytes", len(b)))

	out := content.AudioData(b, "audio"+filepath.Ext(outPath))
	out.URL = res.URL
	out.Source = res.Source
	return out, nil
}

func (r *Resolver) transcode(ctx context.Context, in, out string) error {
	argv := make([]string, len(r.media.Transcode))
	for i, a := range r.media.Transcode {
		a = strings.ReplaceAll(a, "{in}", in)
		argv[i] = strings.ReplaceAll(a, "{out}", out)
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if outb, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("transcode %s: %w: %s", argv[0], err, strings.TrimSpace(tail(string(outb), 300)))
	}
	return nil
}

func (r *Resolver) outputExt() string {
	ext := strings.TrimSpace(r.media.OutputExt)
	if ext == "" {
		return ".ogg"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func extOf(rawURL string) string {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	ext := strings.ToLower(path.Ext(u))
	if len(ext) < 2 || len(ext) > 5 {
		return ".bin"
	}
	return ext
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
