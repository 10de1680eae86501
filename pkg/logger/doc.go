// Package logger builds *slog.Logger instances from functional options and
// provides attribute helpers that keep key names consistent across tierkit.
//
// New returns a JSON logger at info level by default. The environment presets
// (WithDevelopment, WithStaging, WithProduction, WithEnvironment) pick format and
// level, and tag every record with env and service. Context extractors
// registered through WithContextValue or WithContextExtractors run on every
// *Context call, which is how request ids reach handler and processor logs:
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.AppEnv, "tierkit"),
//		logger.WithContextExtractors(requestid.LogExtractor()),
//	)
//	log.InfoContext(ctx, "event applied",
//		logger.AccountID(acct.ID),
//		logger.Tier("tier", acct.Tier),
//		logger.Outcome(outcome),
//	)
package logger
