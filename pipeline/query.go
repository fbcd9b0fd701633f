package pipeline

import (
	"net/url"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/types"
	"github.com/saiset-co/sai-pipeline/utils"
)

// QueryDecoder converts the raw query string into a mapping on the context.
type QueryDecoder struct {
	logger types.Logger
}

func NewQueryDecoder(logger types.Logger) *QueryDecoder {
	return &QueryDecoder{logger: logger}
}

// Logic is the "query" built-in.
func (d *QueryDecoder) Logic() types.MiddlewareLogic {
	return func(ctx *types.RequestContext) bool {
		rawQuery := utils.BytesToString(ctx.Raw.URI().QueryString())
		if rawQuery == "" {
			ctx.Query = map[string]string{}
			return true
		}

		values, err := url.ParseQuery(rawQuery)
		if err != nil {
			d.logger.Debug("query parse failed",
				zap.String("path", ctx.Path),
				zap.Error(err),
			)
			ctx.Fail(fasthttp.StatusBadRequest, types.Errorf(types.ErrQueryParseFailed, "%v", err))
			return false
		}

		ctx.Query = flattenValues(values)
		return true
	}
}
