// Package auth checks the bearer credentials websocket relay clients present.
//
// A relay is configured with one shared secret. Clients authenticate with
// either the secret itself or an HS256 JWT signed with it; the token's
// "sub" claim names the agent and shows up in relay logs.
//
//	cred := auth.NewCredential(secret)
//	token, err := cred.Issue("clock", 24*time.Hour)
//	subject, err := cred.Authorize("Bearer " + token)
//
// An empty secret disables checking and Authorize accepts every header.
package auth
