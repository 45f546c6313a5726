// Package logger es el zap compartido por la estación.
//
// Init arma el logger una vez (consola en dev, JSON en prod, nop en test) y
// From(ctx) lo recupera. Los intercambios con EA/AA viajan con un logger
// propio (WithExchange) para que el transporte loguee con el mismo
// request_id que los drivers.
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
//	logger.From(ctx).Warn("ea certificate rejected", logger.Kind("ea"), logger.Err(err))
package logger
