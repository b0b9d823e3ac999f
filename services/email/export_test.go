package emailsvc

import (
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trezcool/jotutor/core"
)

func PrepareSendgridMail(svc *SendgridService, msg core.EmailMessage) *sgmail.SGMailV3 {
	return svc.prepare(msg)
}
