package notify

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strings"
)

// DefaultFacility keys the lab-staff list used when a run's facility has
// no list of its own.
const DefaultFacility = "default"

// Recipients routes messages by audience.
type Recipients struct {
	// LabStaff maps a core facility name to its staff addresses.
	LabStaff map[string][]string
	// Notify receives error notifications.
	Notify []string
	// Archive receives ready-for-archive notices.
	Archive []string
}

// LabStaffFor returns the staff of facility, falling back to the default
// list. Facility names match case-insensitively since configuration keys
// are lowercased when loaded.
func (r Recipients) LabStaffFor(facility string) []string {
	if to := r.LabStaff[facility]; len(to) > 0 {
		return to
	}
	for name, to := range r.LabStaff {
		if len(to) > 0 && strings.EqualFold(name, facility) {
			return to
		}
	}
	return r.LabStaff[DefaultFacility]
}

// FromAddress returns the account the process runs as, qualified with the
// host name.
func FromAddress() string {
	name := os.Getenv("LOGNAME")
	if name == "" {
		if u, err := user.Current(); err == nil {
			name = u.Username
		}
	}
	if name == "" {
		name = "demuxmgr"
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return name + "@" + host
}

// Notifier composes pipeline notifications.
type Notifier struct {
	Sender     Sender
	Recipients Recipients
	From       string
}

// Run is the subset of run details notifications mention.
type Run struct {
	ID       string
	Dir      string
	Facility string
}

func (n *Notifier) send(ctx context.Context, to []string, subject, body string, attachments ...string) error {
	from := n.From
	if from == "" {
		from = FromAddress()
	}
	return n.Sender.Send(ctx, Message{
		From:        from,
		To:          to,
		Subject:     subject,
		Body:        body,
		Attachments: attachments,
	})
}

// NotRegistered tells lab staff a run folder is missing from the lab
// database. done marks runs whose transfer already finished.
func (n *Notifier) NotRegistered(ctx context.Context, r Run, done bool) error {
	var b strings.Builder
	if done {
		fmt.Fprintf(&b, "The sequencing run %s is done, but the run folder has not been entered in the lab database.\n", r.ID)
		b.WriteString("The pipeline can not start until the flow cell has been entered.\n")
	} else {
		fmt.Fprintf(&b, "The run folder %s has not been entered in the lab database.\n", r.ID)
		b.WriteString("Please check that the run folder was entered correctly.\n")
	}
	return n.send(ctx, n.Recipients.LabStaffFor(r.Facility),
		fmt.Sprintf("Pipeline Problem! (%s)", r.ID), b.String())
}

// Starting tells lab staff the transfer finished and processing began.
func (n *Notifier) Starting(ctx context.Context, r Run) error {
	return n.send(ctx, n.Recipients.LabStaffFor(r.Facility),
		fmt.Sprintf("Pipeline starting. (%s)", r.ID),
		fmt.Sprintf("The data transfer for run %s is complete and the pipeline is starting to process the run.\n", r.ID))
}

// Complete tells lab staff the data files were delivered.
func (n *Notifier) Complete(ctx context.Context, r Run, summary string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "The pipeline has finished processing run %s.\n", r.ID)
	b.WriteString("Please confirm that the sequence files are available for download\n")
	b.WriteString("before marking the run complete in the lab database.\n")
	b.WriteString("The run folder will now be cleaned up to prepare it for archiving.\n")
	if summary != "" {
		b.WriteString("\n" + summary)
	}
	return n.send(ctx, n.Recipients.LabStaffFor(r.Facility),
		fmt.Sprintf("Pipeline processing is complete. (%s)", r.ID), b.String())
}

// QcReport mails the barcode report to lab staff.
func (n *Notifier) QcReport(ctx context.Context, r Run, report string) error {
	return n.send(ctx, n.Recipients.LabStaffFor(r.Facility),
		fmt.Sprintf("Pipeline QC report (%s)", r.ID),
		fmt.Sprintf("Here is the barcode processing report for run %s.", r.ID), report)
}

// Error tells the notify list that a run entered the error state.
func (n *Notifier) Error(ctx context.Context, r Run) error {
	return n.send(ctx, n.Recipients.Notify, "Pipeline Notification",
		fmt.Sprintf("Run %s (%s) just entered error state.", r.ID, r.Dir))
}

// ReadyForArchive tells the archive list a run can be archived.
func (n *Notifier) ReadyForArchive(ctx context.Context, r Run) error {
	return n.send(ctx, n.Recipients.Archive, "Pipeline Notification",
		fmt.Sprintf("Run %s is complete, cleaned up, and ready for archiving.", r.ID))
}
