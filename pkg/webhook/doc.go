// Package webhook delivers signed JSON payloads to a single HTTP endpoint.
//
// A Sender retries transient failures with exponential backoff and stops
// calling an endpoint that keeps failing until a cooldown has passed:
//
//	s, err := webhook.NewSender(url, secret,
//		webhook.WithRetries(3),
//		webhook.WithBackoff(time.Second, 30*time.Second),
//	)
//	if err != nil {
//		return err
//	}
//	err = s.Send(ctx, deliveryID, payload)
//
// Each request carries an X-Tierkit-Signature header of the form
// "t=<unix>,v1=<hex>", where the hex part is HMAC-SHA256(secret,
// "<unix>.<body>"). Receivers check it with Verify.
package webhook
