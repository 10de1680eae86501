// Package subscription keeps each account's paid tier in step with a billing
// provider and answers access questions against it.
//
// The package is built from four cooperating parts that share a UserStore:
//
//   - Processor folds verified provider events into account records. It is
//     idempotent per event ID, ignores events older than the last applied one,
//     and drops events that name a subscription the account no longer has.
//   - Orchestrator starts checkout and portal sessions. It guarantees an
//     account never gets a second live subscription: in ConflictStrict mode it
//     refuses, in ConflictAutoReplace mode it cancels the current one first.
//   - Guard evaluates an account's effective tier, including the past-due
//     grace period, and authorizes feature or tier requirements.
//   - Notifier delivers tier and status changes to sinks off the request path.
//     LogSink logs them and WebhookSink posts them to an HTTP endpoint.
//
// Records are only written through UserStore.CompareAndSwap, so concurrent
// webhooks and checkouts for the same account serialise without locks.
// MemoryStore, PostgresStore and MongoStore implement the store.
//
// StripeGateway is the Stripe implementation of BillingGateway and also
// verifies and translates Stripe webhooks:
//
//	gw, err := subscription.NewStripeGateway(stripeCfg)
//	if err != nil {
//		return err
//	}
//	ev, err := gw.ParseWebhook(body, r.Header.Get("Stripe-Signature"))
//	if err != nil {
//		return err
//	}
//	outcome, err := processor.Apply(ctx, ev)
//
// Authorization fails closed: if the store cannot be read, Guard denies.
//
//	d := guard.Authorize(ctx, accountID, subscription.RequireFeature(tier.FeatureAPIAccess))
//	if !d.Allowed {
//		return errors.New(d.Message())
//	}
package subscription
