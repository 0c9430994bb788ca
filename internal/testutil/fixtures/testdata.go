// Package fixtures provides shared test data constants for the
// lumina-auth test suite.
//
// Using common constants for test identities prevents magic strings in
// tests and ensures consistency across packages.
package fixtures

// Standard identity values used in token and session tests.
const (
	// TestEmail is the default email claim for test identities.
	TestEmail = "user@lumina.test"

	// TestIssuer is the default token issuer for tests.
	TestIssuer = "lumina-auth"

	// TestAudience is the default token audience for tests.
	TestAudience = "lumina-platform"

	// TestHS256Secret is a 32-byte shared secret for HS256 test codecs.
	// This is a deliberately weak value suitable only for unit tests.
	TestHS256Secret = "this-is-a-32-byte-test-secret-ok"
)

// Standard client context values recorded on test sessions.
const (
	// TestUserAgent is the default user agent string for test sessions.
	TestUserAgent = "lumina-test-agent/1.0"

	// TestIPAddress is the default client address for test sessions.
	// Drawn from the TEST-NET-3 documentation range.
	TestIPAddress = "203.0.113.7"
)

// KeycloakUserinfoJSON is a representative Keycloak userinfo payload for
// translation tests, including the realm_access structure that identifies
// the provider.
const KeycloakUserinfoJSON = `{
  "sub": "f6a1c1e2-7b90-4f0e-9d35-1c2c3d4e5f60",
  "email": "user@lumina.test",
  "name": "Test User",
  "preferred_username": "testuser",
  "realm_access": {
    "roles": ["offline_access", "uma_authorization", "admin"]
  }
}`
