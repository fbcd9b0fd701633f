package pipeline

import (
	"io"
	"mime/multipart"
	"net/url"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/types"
	"github.com/saiset-co/sai-pipeline/utils"
)

// BodyDecoder parses the raw request payload by declared content type into
// structured data on the context. Parse failures answer 400 with the error
// attached and halt the chain.
type BodyDecoder struct {
	logger types.Logger
}

func NewBodyDecoder(logger types.Logger) *BodyDecoder {
	return &BodyDecoder{logger: logger}
}

// Logic is the "body" built-in.
func (d *BodyDecoder) Logic() types.MiddlewareLogic {
	return func(ctx *types.RequestContext) bool {
		if err := d.Decode(ctx); err != nil {
			d.logger.Debug("body parse failed",
				zap.String("path", ctx.Path),
				zap.Error(err),
			)
			ctx.Fail(fasthttp.StatusBadRequest, err)
			return false
		}
		return true
	}
}

func (d *BodyDecoder) Decode(ctx *types.RequestContext) error {
	raw := ctx.Raw.Request.Body()
	ctx.RawBody = raw

	contentType := utils.BytesToString(ctx.Raw.Request.Header.ContentType())
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}

	switch {
	case len(raw) == 0 && !strings.HasPrefix(contentType, "multipart/"):
		return nil

	case contentType == "application/json":
		var data interface{}
		if err := utils.Unmarshal(raw, &data); err != nil {
			return types.Errorf(types.ErrBodyParseFailed, "invalid json: %v", err)
		}
		ctx.Body = data

	case contentType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(utils.BytesToString(raw))
		if err != nil {
			return types.Errorf(types.ErrBodyParseFailed, "invalid form: %v", err)
		}
		ctx.Body = flattenValues(values)

	case strings.HasPrefix(contentType, "multipart/"):
		form, err := ctx.Raw.MultipartForm()
		if err != nil {
			return types.Errorf(types.ErrBodyParseFailed, "invalid multipart form: %v", err)
		}
		return d.decodeMultipart(ctx, form)

	default:
		ctx.Body = utils.BytesToString(raw)
	}

	return nil
}

func (d *BodyDecoder) decodeMultipart(ctx *types.RequestContext, form *multipart.Form) error {
	values := make(map[string]string, len(form.Value))
	for key, vals := range form.Value {
		if len(vals) > 0 {
			values[key] = vals[0]
		}
	}
	ctx.Body = values

	for field, headers := range form.File {
		for _, header := range headers {
			file, err := readUpload(field, header)
			if err != nil {
				return err
			}
			ctx.Files = append(ctx.Files, file)
		}
	}

	return nil
}

func readUpload(field string, header *multipart.FileHeader) (*types.UploadedFile, error) {
	f, err := header.Open()
	if err != nil {
		return nil, types.Errorf(types.ErrBodyParseFailed, "failed to open upload %q: %v", header.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, types.Errorf(types.ErrBodyParseFailed, "failed to read upload %q: %v", header.Filename, err)
	}

	return &types.UploadedFile{
		Field:       field,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Data:        data,
	}, nil
}

func flattenValues(values url.Values) map[string]string {
	flat := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			flat[key] = vals[0]
		}
	}
	return flat
}
