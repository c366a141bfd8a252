package tunnel

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/specialistvlad/remotebox/internal/ctxlog"
	"github.com/specialistvlad/remotebox/internal/fsutil"
	"github.com/zeebo/blake3"
)

// DigestLabel is stamped on built images so unchanged contexts can skip the
// rebuild.
const DigestLabel = "dev.remotebox.context-digest"

// BuildSpec is one image build.
type BuildSpec struct {
	Tag        string
	Context    string
	Dockerfile string
	Args       map[string]string
	Labels     map[string]string
	DockerHost string
}

// Image is the outcome of ImageBuilder.Build.
type Image struct {
	Ref     string
	Digest  string
	Rebuilt bool
}

// ImageBuilder builds the sidecar image.
type ImageBuilder struct {
	Runtime Runtime
}

// Build validates the tag, hashes the context and build args, and builds
// only when the existing image carries a different digest.
func (b *ImageBuilder) Build(ctx context.Context, spec BuildSpec) (Image, error) {
	logger := ctxlog.FromContext(ctx).With("image", spec.Tag)

	if _, err := name.ParseReference(spec.Tag); err != nil {
		return Image{}, fmt.Errorf("invalid image tag %q: %w", spec.Tag, err)
	}

	digest, err := ContextDigest(spec.Context, spec.Dockerfile, spec.Args)
	if err != nil {
		return Image{}, err
	}

	current, found, err := b.Runtime.ImageLabel(ctx, spec.DockerHost, spec.Tag, DigestLabel)
	if err != nil {
		return Image{}, fmt.Errorf("inspecting image: %w", err)
	}
	if found && current == digest {
		logger.Info("Image is up to date, skipping build.", "digest", digest)
		return Image{Ref: spec.Tag, Digest: digest}, nil
	}

	labels := map[string]string{DigestLabel: digest}
	for k, v := range spec.Labels {
		labels[k] = v
	}
	spec.Labels = labels

	logger.Info("▶️ Building image", "context", spec.Context)
	if err := b.Runtime.Build(ctx, spec); err != nil {
		return Image{}, fmt.Errorf("building %s: %w", spec.Tag, err)
	}
	logger.Info("✅ Image built", "digest", digest)
	return Image{Ref: spec.Tag, Digest: digest, Rebuilt: true}, nil
}

// ContextDigest hashes every regular file under dir (path and content, in
// lexical order), the Dockerfile if it lives elsewhere, and the build args.
func ContextDigest(dir, dockerfile string, args map[string]string) (string, error) {
	hasher := blake3.New()

	files, err := fsutil.RegularFiles(dir, fsutil.WalkOptions{})
	if err != nil {
		return "", fmt.Errorf("walking build context: %w", err)
	}
	if dockerfile != "" {
		abs := dockerfile
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(dir, dockerfile)
		}
		if rel, err := filepath.Rel(dir, abs); err != nil || strings.HasPrefix(rel, "..") {
			files = append(files, abs)
		}
	}
	sort.Strings(files)

	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		fmt.Fprintf(hasher, "file %s\n", filepath.ToSlash(rel))
		if err := hashFile(hasher, path); err != nil {
			return "", err
		}
	}

	for _, k := range sortedKeys(args) {
		fmt.Fprintf(hasher, "arg %s=%s\n", k, args[k])
	}

	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

func hashFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}
	return nil
}
