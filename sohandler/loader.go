package sohandler

import (
	"net/url"
	"os"
	"path/filepath"
	"plugin"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/go-getter"
	shellquote "github.com/kballard/go-shellquote"

	"github.com/nicesj/widget-provider/errors"
	"github.com/nicesj/widget-provider/logger"
)

// ABIConstraint is the semver range a package's ABI tag must satisfy for
// the adaptor path to be selected over the native "c" ABI (spec.md §4.3).
// Packages declaring ABI "c" always use the native table; any other ABI
// must match this constraint to be loaded through the shared adaptor
// module, guarding against loading a package built for an incompatible
// provider generation.
var ABIConstraint = mustConstraint(">=1.0.0, <3.0.0")

func mustConstraint(c string) *semver.Constraints {
	cc, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cc
}

// ModulePaths are the directories searched for a package's libexec binary
// and for the shared adaptor module, in order (spec.md §4.3 "looked up via
// service metadata").
type ModulePaths struct {
	LibexecSearchPaths []string
	AdaptorModulePath  string
}

// Loader resolves and opens a package's code module.
type Loader struct {
	paths ModulePaths
}

// NewLoader constructs a Loader over the given search paths.
func NewLoader(paths ModulePaths) *Loader {
	return &Loader{paths: paths}
}

// Resolve locates the on-disk module for (packageID, abiTag): a libexec
// path for ABI "c", or the shared adaptor module otherwise, after checking
// abiTag against ABIConstraint (spec.md §4.3).
func (l *Loader) Resolve(packageID, abiTag string) (string, error) {
	if abiTag == "" || abiTag == "c" {
		return l.resolveLibexec(packageID)
	}

	v, err := semver.NewVersion(abiTag)
	if err != nil {
		return "", errors.Wrapf(err, "package %s: invalid ABI tag %q", packageID, abiTag)
	}
	if !ABIConstraint.Check(v) {
		return "", errors.Wrapf(errors.ErrNotSupported, "package %s: ABI %s does not satisfy %s", packageID, abiTag, ABIConstraint)
	}

	if l.paths.AdaptorModulePath == "" {
		return "", errors.Newf("package %s: no adaptor module configured for ABI %s", packageID, abiTag)
	}
	return expandPath(l.paths.AdaptorModulePath)
}

func (l *Loader) resolveLibexec(packageID string) (string, error) {
	for _, dir := range l.paths.LibexecSearchPaths {
		expanded, err := expandPath(dir)
		if err != nil {
			logger.Named("sohandler").Debugw("skipping invalid libexec search path", "path", dir, "error", err)
			continue
		}
		candidate := filepath.Join(expanded, packageID+".so")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", errors.Wrapf(errors.ErrNotFound, "libexec module for package %s", packageID)
}

// expandPath resolves ~, relative segments, and file:// URIs the way
// go-getter's path detector does, so libexec search paths can be given in
// config as either plain filesystem paths or file:// URIs.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "failed to resolve home directory")
		}
		path = filepath.Join(home, path[2:])
	}

	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}

	detected, err := getter.Detect(path, pwd, getter.Detectors)
	if err != nil {
		return "", errors.Wrapf(err, "invalid module search path %q", path)
	}

	u, err := url.Parse(detected)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse module path %q", path)
	}
	if u.Scheme == "file" {
		return u.Path, nil
	}
	if u.Scheme == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", errors.Wrap(err, "failed to make module path absolute")
		}
		return abs, nil
	}
	return "", errors.Newf("unsupported module path scheme %q", u.Scheme)
}

// OpenNative dlopens the module at path and resolves its capability
// symbols, each named widget_<capability>. Every symbol except
// widget_create and widget_destroy may be absent (spec.md §4.3).
func OpenNative(path string) (CapabilityTable, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open module %s", path)
	}
	return newSymbolTable(p, path, false)
}

// OpenAdaptor dlopens the shared adaptor module and resolves its
// adaptor_<capability> symbols with the native arity; no packageID
// argument is added to the calls (spec.md §3 "Package").
func OpenAdaptor(path string) (CapabilityTable, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open adaptor module %s", path)
	}
	return newSymbolTable(p, path, true)
}

// LibexecArgv builds the argv a libexec-spawned helper process would
// receive, splitting each argument into words the way a shell would (used when a package's
// initialize hook shells out to a setup script rather than calling a Go
// symbol directly).
func LibexecArgv(binary string, args ...string) ([]string, error) {
	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, binary)
	for _, a := range args {
		parts, err := shellquote.Split(a)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to tokenize libexec argument %q", a)
		}
		quoted = append(quoted, parts...)
	}
	return quoted, nil
}
