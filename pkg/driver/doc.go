// Package driver issues HTTP requests through a chain of middleware.
//
// Middleware are registered against a path glob (see package match) or a
// predicate and run in onion order around a fixed exchange:
//
//	BeforeInit, Init, AfterInit, InitAbort, BeforeFetch, fetch,
//	AfterFetch, DecodeHeader, BeforeParse, parse, AfterParse
//
// A middleware that does not call next skips the exchange entirely, which
// lets it answer from a local source by filling in Context.Res itself.
//
//	d := driver.New(driver.WithBaseURL("https://example.com"))
//	d.Use("/api/**", func(ctx context.Context, c *driver.Context, next compose.Next) error {
//		c.Req.Header.Set("Authorization", "Bearer "+token)
//		return next(ctx)
//	})
//	body, err := d.Get(ctx, "/api/users", url.Values{"page": {"2"}})
package driver
