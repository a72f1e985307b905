// Package notify tells users that one of their tasks expired.
//
// SNSPublisher publishes to a topic that users subscribe to with their email
// address; a filter policy on each subscription keeps users from receiving
// each other's notifications. SESPublisher sends the same text directly as
// an email.
package notify

import (
	"fmt"
	"time"

	"github.com/guido-cesarano/taskexpiry/pkg/tasks"
)

// ExpirySubject is the subject line of every expiry notification.
const ExpirySubject = "Task Expiry Notification"

// ExpiryText renders the notification body for an expired task.
func ExpiryText(t tasks.Task) string {
	return fmt.Sprintf("Task Expired: %s\nDescription: %s\nDate: %s\nDeadline: %s",
		t.TaskID, t.Description, t.Date, t.DeadlineTime().UTC().Format(time.RFC1123))
}
