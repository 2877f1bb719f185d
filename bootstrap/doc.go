// Package bootstrap assembles the service instance from an ordered set of
// stages and falls back through alternative profiles when a stage fails.
//
// A Registry fixes the stage order once at construction. A Cascade runs that
// order against one profile. A Policy walks the attempt list and ends with the
// liveness-only stub when nothing else succeeds.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx, bootstrap.OptionsFromEnv())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	app.Start()
//
//	// Wait for shutdown signal
//	app.WaitForShutdown()
package bootstrap
