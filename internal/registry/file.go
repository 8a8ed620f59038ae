package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"noshowd/internal/common/fsutil"
	"noshowd/internal/model"
	"noshowd/pkg/types"
)

// metaFile is the per-version metadata file of the file backend.
const metaFile = "meta.yaml"

// defaultArtifact is the artifact file name used when meta.yaml omits source.
const defaultArtifact = "model.json"

// FileBackend stores versions as <root>/<name>/<version>/meta.yaml.
type FileBackend struct {
	root string
}

// NewFileBackend returns a backend rooted at dir. The directory is not
// required to exist yet; listing a missing root reports the registry as
// unreachable.
func NewFileBackend(dir string) (*FileBackend, error) {
	abs, err := fsutil.ResolvePath("", dir)
	if err != nil {
		return nil, err
	}
	return &FileBackend{root: abs}, nil
}

// Root returns the absolute registry directory.
func (f *FileBackend) Root() string { return f.root }

func (f *FileBackend) modelDir(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid model name %q", name)
	}
	return filepath.Join(f.root, name), nil
}

// ListVersions scans <root>/<name> for version directories holding meta.yaml.
// Directories without metadata are skipped.
func (f *FileBackend) ListVersions(ctx context.Context, name string) ([]types.ModelVersion, error) {
	if fi, err := os.Stat(f.root); err != nil {
		return nil, model.ErrRegistryUnavailable(fmt.Errorf("registry root: %w", err))
	} else if !fi.IsDir() {
		return nil, model.ErrRegistryUnavailable(fmt.Errorf("registry root %s is not a directory", f.root))
	}
	dir, err := f.modelDir(name)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []types.ModelVersion
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			continue
		}
		v, err := f.readMeta(name, e.Name())
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *FileBackend) readMeta(name, version string) (types.ModelVersion, error) {
	vdir := filepath.Join(f.root, name, version)
	b, err := os.ReadFile(filepath.Join(vdir, metaFile))
	if err != nil {
		return types.ModelVersion{}, err
	}
	var v types.ModelVersion
	if err := yaml.Unmarshal(b, &v); err != nil {
		return types.ModelVersion{}, fmt.Errorf("%s/%s/%s: %w", name, version, metaFile, err)
	}
	v.Name = name
	v.Version = version
	v.Stage = normalizeStage(v.Stage)
	if v.Source == "" {
		v.Source = defaultArtifact
	}
	if !strings.Contains(v.Source, "://") {
		p, err := fsutil.ResolvePath(vdir, v.Source)
		if err != nil {
			return types.ModelVersion{}, err
		}
		v.Source = p
	}
	return v, nil
}

func (f *FileBackend) writeMeta(v types.ModelVersion) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(f.root, v.Name, v.Version, metaFile), b, 0o644)
}

// Register creates <root>/<name>/<version>/meta.yaml. A relative Source is
// stored as given and resolved against the version directory on read.
func (f *FileBackend) Register(ctx context.Context, v types.ModelVersion) (string, error) {
	dir, err := f.modelDir(v.Name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if v.Version == "" {
		existing, err := f.ListVersions(ctx, v.Name)
		if err != nil {
			return "", err
		}
		v.Version = nextVersion(existing)
	}
	if strings.ContainsAny(v.Version, `/\`) {
		return "", fmt.Errorf("invalid version %q", v.Version)
	}
	if err := os.Mkdir(filepath.Join(dir, v.Version), 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("version %s of %s already exists", v.Version, v.Name)
		}
		return "", err
	}
	stage, err := model.ParseStage(v.Stage)
	if err != nil {
		return "", err
	}
	v.Stage = string(stage)
	if v.CreatedAtMS == 0 {
		v.CreatedAtMS = time.Now().UnixMilli()
	}
	if err := f.writeMeta(v); err != nil {
		return "", err
	}
	return v.Version, nil
}

// Transition rewrites the stage in meta.yaml of the target version and, when
// archiving, of every other Production version.
func (f *FileBackend) Transition(ctx context.Context, name, version string, stage model.Stage, archiveExisting bool) error {
	if _, err := f.modelDir(name); err != nil {
		return err
	}
	target, err := f.rawMeta(name, version)
	if err != nil {
		return err
	}
	if stage == model.StageProduction && archiveExisting {
		vs, err := f.ListVersions(ctx, name)
		if err != nil {
			return err
		}
		for _, v := range vs {
			if v.Version == version || v.Stage != string(model.StageProduction) {
				continue
			}
			raw, err := f.rawMeta(name, v.Version)
			if err != nil {
				return err
			}
			raw.Stage = string(model.StageArchived)
			if err := f.writeMeta(raw); err != nil {
				return err
			}
		}
	}
	target.Stage = string(stage)
	return f.writeMeta(target)
}

// rawMeta reads meta.yaml without resolving Source, for rewriting.
func (f *FileBackend) rawMeta(name, version string) (types.ModelVersion, error) {
	b, err := os.ReadFile(filepath.Join(f.root, name, version, metaFile))
	if errors.Is(err, os.ErrNotExist) {
		return types.ModelVersion{}, model.ErrModelNotFound(name + "/" + version)
	}
	if err != nil {
		return types.ModelVersion{}, err
	}
	var v types.ModelVersion
	if err := yaml.Unmarshal(b, &v); err != nil {
		return types.ModelVersion{}, err
	}
	v.Name = name
	v.Version = version
	return v, nil
}

// Close is a no-op.
func (f *FileBackend) Close() error { return nil }
