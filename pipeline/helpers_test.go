package pipeline

import (
	"net"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/logger"
	"github.com/saiset-co/sai-pipeline/types"
)

func newTestLogger() types.Logger {
	return logger.NewZapWrapper(zap.NewNop())
}

func newTestContext(method, uri, remoteAddr string) *types.RequestContext {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)

	fctx := &fasthttp.RequestCtx{}
	fctx.Init(&req, &net.TCPAddr{IP: net.ParseIP(remoteAddr), Port: 40000}, nil)

	return types.NewRequestContext(fctx, "http", "localhost:8080")
}

func passLogic(ctx *types.RequestContext) bool { return true }

func haltLogic(ctx *types.RequestContext) bool { return false }
