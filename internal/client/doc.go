// Package client is the session agent used by dispatch-auth consumers.
//
// An Agent holds the caller's access and refresh tokens in an injectable
// TokenHolder, attaches the access token to outgoing requests and refreshes
// it transparently when the server answers 401 TOKEN_EXPIRED:
//
//	agent, err := client.New(client.Options{BaseURL: "https://auth.example/api/v1"})
//	if _, err := agent.Login(ctx, "a@example.com", "secret-password"); err != nil {
//	    return err
//	}
//	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
//	resp, err := agent.Do(ctx, req)
//
// Concurrent requests that hit an expired token share a single refresh
// call. Each request is replayed at most once. When the refresh itself is
// rejected the holder is cleared and ErrUnauthenticated is returned; network
// failures and timeouts are reported as ErrTransient and leave the holder
// untouched.
package client
