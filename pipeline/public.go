package pipeline

import (
	"mime"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/metrics"
	"github.com/saiset-co/sai-pipeline/types"
)

const minCompressSize = 512

// StaticResolver maps request paths onto files under the configured static
// roots. A resolved file fully satisfies the request and short-circuits the
// chain; a miss defers to later middleware and the route table.
type StaticResolver struct {
	logger  types.Logger
	metrics *metrics.Pipeline

	roots       []string
	defaultFile string
	compress    bool

	cacheEnabled bool
	maxAge       int
	include      *regexp.Regexp
	exclude      *regexp.Regexp
}

func NewStaticResolver(config *types.StaticConfig, logger types.Logger, m *metrics.Pipeline) (*StaticResolver, error) {
	s := &StaticResolver{
		logger:      logger,
		metrics:     m,
		defaultFile: "index.html",
	}

	if config == nil {
		return s, nil
	}

	for _, root := range config.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, types.Errorf(types.ErrStaticRootMissing, "root %q: %v", root, err)
		}
		s.roots = append(s.roots, abs)
	}

	if config.DefaultFile != "" {
		s.defaultFile = config.DefaultFile
	}
	s.compress = config.Compress

	if cache := config.Cache; cache != nil {
		s.cacheEnabled = cache.Enabled
		s.maxAge = cache.MaxAge

		var err error
		if cache.Include != "" {
			if s.include, err = regexp.Compile(cache.Include); err != nil {
				return nil, types.WrapError(err, "invalid static cache include pattern")
			}
		}
		if cache.Exclude != "" {
			if s.exclude, err = regexp.Compile(cache.Exclude); err != nil {
				return nil, types.WrapError(err, "invalid static cache exclude pattern")
			}
		}
	}

	return s, nil
}

// Logic is the "public" built-in.
func (s *StaticResolver) Logic() types.MiddlewareLogic {
	return func(ctx *types.RequestContext) bool {
		filePath, ok := s.Resolve(ctx.Path)
		if !ok {
			return true
		}

		if err := s.serve(ctx, filePath); err != nil {
			s.logger.ErrorWithErrStack("failed to serve static file", err,
				zap.String("file", filePath),
			)
			ctx.Fail(fasthttp.StatusInternalServerError, err)
		}

		return false
	}
}

// Resolve finds the first existing file for a request path across the
// static roots, falling back to the default file for directories. Paths
// escaping a root never resolve.
func (s *StaticResolver) Resolve(requestPath string) (string, bool) {
	if len(s.roots) == 0 {
		return "", false
	}

	cleaned := path.Clean("/" + requestPath)

	for _, root := range s.roots {
		candidate := filepath.Join(root, filepath.FromSlash(cleaned))
		if !strings.HasPrefix(candidate, root) {
			continue
		}

		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}

		if info.IsDir() {
			candidate = filepath.Join(candidate, s.defaultFile)
			if info, err = os.Stat(candidate); err != nil || info.IsDir() {
				continue
			}
		}

		return candidate, true
	}

	return "", false
}

// Cacheable applies the cache policy to a request path: caching must be
// globally enabled, the path must not match the exclude pattern, and when
// an include pattern is configured the path must match it.
func (s *StaticResolver) Cacheable(requestPath string) bool {
	if !s.cacheEnabled {
		return false
	}
	if s.exclude != nil && s.exclude.MatchString(requestPath) {
		return false
	}
	if s.include != nil {
		return s.include.MatchString(requestPath)
	}
	return true
}

func (s *StaticResolver) serve(ctx *types.RequestContext, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return errors.Wrap(err, "failed to read static file")
	}

	contentType := mime.TypeByExtension(filepath.Ext(filePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ctx.Raw.SetContentType(contentType)

	cached := s.Cacheable(ctx.Path)
	if cached {
		ctx.Raw.Response.Header.Set("Cache-Control", "public, max-age="+strconv.Itoa(s.maxAge))
	}
	s.metrics.ObserveStaticHit(cached)

	if s.compress && len(data) >= minCompressSize && compressibleType(contentType) {
		if encoded := s.writeCompressed(ctx, data); encoded {
			return nil
		}
	}

	ctx.Raw.SetStatusCode(fasthttp.StatusOK)
	ctx.Raw.SetBody(data)
	return nil
}

func (s *StaticResolver) writeCompressed(ctx *types.RequestContext, data []byte) bool {
	acceptEncoding := string(ctx.Raw.Request.Header.Peek("Accept-Encoding"))

	switch {
	case strings.Contains(acceptEncoding, "br"):
		ctx.Raw.Response.Header.Set("Content-Encoding", "br")
		ctx.Raw.Response.Header.Set("Vary", "Accept-Encoding")
		ctx.Raw.SetStatusCode(fasthttp.StatusOK)

		w := brotli.NewWriterLevel(ctx.Raw.Response.BodyWriter(), brotli.DefaultCompression)
		_, _ = w.Write(data)
		_ = w.Close()
		return true

	case strings.Contains(acceptEncoding, "gzip"):
		ctx.Raw.Response.Header.Set("Content-Encoding", "gzip")
		ctx.Raw.Response.Header.Set("Vary", "Accept-Encoding")
		ctx.Raw.SetStatusCode(fasthttp.StatusOK)

		w := gzip.NewWriter(ctx.Raw.Response.BodyWriter())
		_, _ = w.Write(data)
		_ = w.Close()
		return true
	}

	return false
}

func compressibleType(contentType string) bool {
	switch {
	case strings.HasPrefix(contentType, "text/"),
		strings.Contains(contentType, "json"),
		strings.Contains(contentType, "javascript"),
		strings.Contains(contentType, "xml"),
		strings.Contains(contentType, "svg"):
		return true
	}
	return false
}
