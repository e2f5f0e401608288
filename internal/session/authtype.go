package session

import "net/url"

// DetectAuthType derives connectionStringAuthType from a MongoDB URI's
// authMechanism query parameter, defaulting to "scram" (spec.md §4.2,
// SPEC_FULL.md §4.2). Parse failures also default to "scram" rather than
// failing the connect attempt — auth-type is telemetry metadata, not a
// precondition for connecting.
func DetectAuthType(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "scram"
	}

	mechanism := u.Query().Get("authMechanism")
	switch mechanism {
	case "MONGODB-X509":
		return "x.509"
	case "GSSAPI":
		return "kerberos"
	case "PLAIN":
		return "ldap"
	case "MONGODB-OIDC":
		if u.Query().Has("ALLOWED_HOSTS") {
			return "oidc-auth-flow"
		}
		return "oidc-device-flow"
	default:
		return "scram"
	}
}
