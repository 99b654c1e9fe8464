package email

import (
	"errors"
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/kart-io/smsforward/pkg/executor"
	"github.com/kart-io/smsforward/pkg/model"
)

// toSendError attaches a failure category to go-mail errors whose reason
// is known. Other errors are returned wrapped and left to message analysis.
func toSendError(op string, err error) error {
	if err == nil {
		return nil
	}

	var se *mail.SendError
	if errors.As(err, &se) {
		switch se.Reason {
		case mail.ErrGetSender, mail.ErrGetRcpts, mail.ErrNoUnencoded:
			return executor.NewSendError(model.FailureEmailConfig, op, err)
		case mail.ErrConnCheck:
			return executor.NewSendError(model.FailureNetwork, op, err)
		case mail.ErrSMTPMailFrom, mail.ErrSMTPRcptTo:
			if se.IsTemp() {
				return executor.NewSendError(model.FailureSMTPProtocol, op, err)
			}
			return executor.NewSendError(model.FailureEmailConfig, op, err)
		default:
			return executor.NewSendError(model.FailureSMTPProtocol, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
