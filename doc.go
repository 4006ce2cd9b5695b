// Package xray records decision-transparency traces for automated
// pipelines: which candidates were considered, which filters they
// passed, what was selected and why.
//
// A Session owns one Execution. Each Step call opens a StepBuilder,
// runs it through the registered middleware and the caller's callback,
// and persists the resulting immutable StepRecord before it becomes
// visible on the in-memory execution:
//
//	session, err := xray.NewSession(ctx, "competitor-selection",
//		xray.WithStore(store),
//		xray.WithTags("pricing"))
//	if err != nil {
//		return err
//	}
//	err = session.Step(ctx, "filter-candidates", func(b *xray.StepBuilder) error {
//		b.Input(candidates)
//		b.Evaluate(candidates, evaluator)
//		b.Select(winner.ID, "closest price within rating threshold")
//		return nil
//	})
//	if err != nil {
//		return err
//	}
//	return session.Complete(ctx)
//
// Persistence is pluggable through the Store interface; MemoryStore is
// the in-process default, with SQLite and PostgreSQL backends under
// sqlitestore and pgstore.
package xray
