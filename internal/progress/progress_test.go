package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rescale/rescale-sftp/internal/events"
)

func started(id, kind, local, remote string, total uint64) *events.TransferEvent {
	return &events.TransferEvent{
		BaseEvent:  events.NewBase(events.EventTransferStarted),
		TransferID: id,
		Kind:       kind,
		LocalPath:  local,
		RemotePath: remote,
		Total:      total,
	}
}

func progressed(id, kind, remote string, transferred, total uint64) *events.TransferProgressEvent {
	return &events.TransferProgressEvent{
		BaseEvent:   events.NewBase(events.EventTransferProgress),
		TransferID:  id,
		Kind:        kind,
		RemotePath:  remote,
		Transferred: transferred,
		Total:       total,
	}
}

func finished(id, kind, remote, state string, transferred uint64, err error) *events.TransferFinishedEvent {
	return &events.TransferFinishedEvent{
		BaseEvent:   events.NewBase(events.EventTransferFinished),
		TransferID:  id,
		Kind:        kind,
		RemotePath:  remote,
		State:       state,
		Transferred: transferred,
		Total:       transferred,
		Error:       err,
	}
}

func TestTruncatePath(t *testing.T) {
	tests := []struct {
		path string
		n    int
		want string
	}{
		{"file.txt", 2, "file.txt"},
		{"dir/file.txt", 2, "file.txt"},
		{"/a/b/c/d/file.txt", 3, "…/c/d/file.txt"},
		{"/tmp/a.txt", 2, "…/tmp/a.txt"},
	}

	for _, tt := range tests {
		if got := truncatePath(tt.path, tt.n); got != tt.want {
			t.Errorf("truncatePath(%q, %d) = %q, expected %q", tt.path, tt.n, got, tt.want)
		}
	}
}

func TestTransferStateRoute(t *testing.T) {
	down := &transferState{kind: "download", localPath: "/tmp/a.txt", remotePath: "/a.txt"}
	if got := down.route(); got != "/a.txt → …/tmp/a.txt" {
		t.Errorf("Unexpected download route: %q", got)
	}

	up := &transferState{kind: "upload", localPath: "/tmp/a.txt", remotePath: "/a.txt"}
	if got := up.route(); got != "…/tmp/a.txt → /a.txt" {
		t.Errorf("Unexpected upload route: %q", got)
	}

	bare := &transferState{kind: "download", remotePath: "/a.txt"}
	if got := bare.route(); got != "/a.txt" {
		t.Errorf("Expected remote path alone when the local path is unknown, got %q", got)
	}
}

func TestBarDisplaySummaries(t *testing.T) {
	var buf bytes.Buffer
	d := NewBarDisplay(&buf)

	d.Started(started("t1", "download", "/tmp/a.txt", "/a.txt", 100))
	d.Progress(progressed("t1", "download", "/a.txt", 50, 100))
	d.Progress(progressed("t1", "download", "/a.txt", 100, 100))
	d.Finished(finished("t1", "download", "/a.txt", "completed", 100, nil))

	d.Started(started("t2", "upload", "/tmp/b.txt", "/b.txt", 10))
	d.Finished(finished("t2", "upload", "/b.txt", "failed", 0, errors.New("permission denied")))

	d.Started(started("t3", "download", "/tmp/c.txt", "/c.txt", 10))
	d.Finished(finished("t3", "download", "/c.txt", "cancelled", 0, nil))
	d.Close()

	out := buf.String()
	if !strings.Contains(out, "✓ /a.txt → …/tmp/a.txt") {
		t.Errorf("Expected completed summary, got %q", out)
	}
	if !strings.Contains(out, "✗ …/tmp/b.txt → /b.txt: permission denied") {
		t.Errorf("Expected failure summary, got %q", out)
	}
	if !strings.Contains(out, "✗ /c.txt → …/tmp/c.txt: cancelled") {
		t.Errorf("Expected cancel summary, got %q", out)
	}
	if len(d.bars) != 0 || len(d.states) != 0 {
		t.Error("Expected finished transfers to be forgotten")
	}
}

func TestBarDisplayEmptyAndUnknownSize(t *testing.T) {
	var buf bytes.Buffer
	d := NewBarDisplay(&buf)

	// Empty files get a summary but no bar
	d.Started(started("e", "download", "/tmp/e", "/e", 0))
	if _, ok := d.bars["e"]; ok {
		t.Error("Expected no bar for an empty file")
	}
	d.Finished(finished("e", "download", "/e", "completed", 0, nil))

	// Progress without an announcement starts a bar lazily
	d.Progress(progressed("u", "download", "/u", 10, events.UnknownTotal))
	if _, ok := d.bars["u"]; !ok {
		t.Fatal("Expected a bar for a transfer first seen in a progress event")
	}
	d.Progress(progressed("u", "download", "/u", 20, 40))
	if d.states["u"].total != 40 {
		t.Errorf("Expected total to be learned from progress, got %d", d.states["u"].total)
	}
	d.Finished(finished("u", "download", "/u", "completed", 40, nil))

	if !strings.Contains(buf.String(), "✓ /e") || !strings.Contains(buf.String(), "✓ /u") {
		t.Errorf("Expected both summaries, got %q", buf.String())
	}
}

func TestTransferUINonTerminal(t *testing.T) {
	var buf bytes.Buffer
	u := NewTransferUI(&buf, 2)
	if u.IsTerminal() {
		t.Fatal("A buffer is not a terminal")
	}
	if u.Writer() != &buf {
		t.Error("Expected Writer to pass output through without a terminal")
	}

	u.Started(started("t1", "upload", "/tmp/a.txt", "/a.txt", 1024*1024))
	u.Started(started("t2", "download", "/tmp/b.txt", "/b.txt", 10))
	u.Progress(progressed("t1", "upload", "/a.txt", 512*1024, 1024*1024))
	u.Finished(finished("t1", "upload", "/a.txt", "completed", 1024*1024, nil))
	u.Finished(finished("t2", "download", "/b.txt", "failed", 0, errors.New("connection lost")))
	u.Close()

	out := buf.String()
	for _, want := range []string{
		"Uploading [1/2]: …/tmp/a.txt → /a.txt (1.0 MiB)",
		"Downloading [2/2]: /b.txt → …/tmp/b.txt",
		"✓ …/tmp/a.txt → /a.txt (1.0 MiB",
		"✗ /b.txt → …/tmp/b.txt: connection lost",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got %q", want, out)
		}
	}
}

func TestNewDisplay(t *testing.T) {
	var buf bytes.Buffer
	if _, ok := NewDisplay(&buf, 1).(*BarDisplay); !ok {
		t.Error("Expected a bar display for one transfer")
	}
	if _, ok := NewDisplay(&buf, 3).(*TransferUI); !ok {
		t.Error("Expected a multi-bar display for several transfers")
	}
}
