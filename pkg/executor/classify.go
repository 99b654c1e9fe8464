package executor

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/kart-io/smsforward/pkg/model"
)

type errorPattern struct {
	category model.FailureCategory
	needles  []string
}

// Checked in order; the first category with a matching needle wins.
var errorPatterns = []errorPattern{
	{model.FailureAuth, []string{
		"535", "534", "authentication", "authenticate", "auth failed", "username and password",
		"invalid credentials", "login denied", "smtp auth",
	}},
	{model.FailureTimeout, []string{"timeout", "timed out", "deadline exceeded", "i/o timeout"}},
	{model.FailurePermission, []string{"permission denied", "not permitted", "forbidden", "access denied"}},
	{model.FailureEmailConfig, []string{
		"no default email", "invalid address", "invalid recipient", "failed to set from",
		"failed to set to", "mail: no address", "certificate", "x509", "smtp host",
	}},
	{model.FailureNetwork, []string{
		"connection refused", "connection reset", "no such host", "network is unreachable",
		"broken pipe", "unexpected eof", "dial tcp", "no route to host",
	}},
	{model.FailureSMTPProtocol, []string{
		"421", "450", "451", "452", "552", "554", "starttls", "tls", "smtp",
	}},
}

// Classify maps a send error to a failure category. Typed SendErrors win,
// then timeouts and DNS errors, then message analysis.
func Classify(err error) model.FailureCategory {
	if err == nil {
		return ""
	}

	var se *SendError
	if errors.As(err, &se) && se.Kind != "" {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.FailureTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.FailureNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		for _, n := range p.needles {
			if strings.Contains(msg, n) {
				return p.category
			}
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return model.FailureNetwork
	}
	return model.FailureUnknown
}
