package download

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/recreport/recreport/internal/export"
)

type fakeAPI struct {
	urls      map[string]string
	media     map[string]string
	requested []string
}

func (f *fakeAPI) DownloadURL(_ context.Context, uid string) (string, error) {
	f.requested = append(f.requested, uid)
	mediaURL, ok := f.urls[uid]
	if !ok {
		return "", errors.New("status=404")
	}
	return mediaURL, nil
}

func (f *fakeAPI) Fetch(_ context.Context, mediaURL string) (io.ReadCloser, int64, error) {
	body, ok := f.media[mediaURL]
	if !ok {
		return nil, 0, errors.New("media download failed status=403")
	}
	return io.NopCloser(strings.NewReader(body)), int64(len(body)), nil
}

func reportRecord(uid, owner, course string) export.CSVRecord {
	return export.CSVRecord{
		"recording_created":  "06/01/2016 14:30",
		"recording_link":     "https://us.bbcollab.com/recording/" + uid,
		"session_owner":      owner,
		"session_name":       "CS101 Room",
		"recording_name":     "Lecture " + uid,
		"context_identifier": course,
		"recording_uid":      uid,
	}
}

func newService(t *testing.T, api API) (*Service, string) {
	t.Helper()
	root := t.TempDir()
	return &Service{
		API: api,
		Config: Config{
			RegionHost:  "https://us.bbcollab.com/",
			LTIKey:      "lti-key",
			DownloadDir: root,
		},
	}, root
}

func TestRunDownloadsOwnedRecordings(t *testing.T) {
	api := &fakeAPI{
		urls:  map[string]string{"a": "https://media/a", "b": "https://media/b"},
		media: map[string]string{"https://media/a": "aaaa", "https://media/b": "bb"},
	}
	svc, root := newService(t, api)

	summary, err := svc.Run(context.Background(), []export.CSVRecord{
		reportRecord("a", "lti-key", "CS101"),
		reportRecord("b", "lti-key", ""),
		reportRecord("c", "someone-else", "CS101"),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Downloaded != 2 || summary.Skipped != 1 || summary.Failed != 0 || summary.Bytes != 6 {
		t.Fatalf("summary = %+v", summary)
	}
	if strings.Join(api.requested, ",") != "a,b" {
		t.Fatalf("requested = %v, foreign-owned rows must not hit the API", api.requested)
	}

	data, err := os.ReadFile(filepath.Join(root, "cs101", "20160601_1430_cs101-room_lecture-a.mp4"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "aaaa" {
		t.Fatalf("content = %q", data)
	}
	if _, err := os.Stat(filepath.Join(root, "_none", "20160601_1430_cs101-room_lecture-b.mp4")); err != nil {
		t.Fatalf("expected recording without course under _none: %v", err)
	}
}

func TestRunSkipsUnresolvableURLs(t *testing.T) {
	svc, root := newService(t, &fakeAPI{})
	summary, err := svc.Run(context.Background(), []export.CSVRecord{reportRecord("a", "lti-key", "CS101")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Skipped != 1 || summary.Downloaded != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Fatalf("download dir should be empty, has %d entries", len(entries))
	}
}

func TestRunCountsTransferFailuresAndContinues(t *testing.T) {
	api := &fakeAPI{
		urls:  map[string]string{"a": "https://media/a", "b": "https://media/b"},
		media: map[string]string{"https://media/b": "bb"},
	}
	svc, root := newService(t, api)

	summary, err := svc.Run(context.Background(), []export.CSVRecord{
		reportRecord("a", "lti-key", "CS101"),
		reportRecord("b", "lti-key", "CS101"),
	})
	if err == nil || !strings.Contains(err.Error(), "1 failure(s)") {
		t.Fatalf("Run() error = %v, want one failure", err)
	}
	if summary.Failed != 1 || summary.Downloaded != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	entries, _ := os.ReadDir(filepath.Join(root, "cs101"))
	if len(entries) != 1 {
		t.Fatalf("cs101 entries = %d, partial files must not remain", len(entries))
	}
}

func TestRunAcceptsNativeReportHeaders(t *testing.T) {
	api := &fakeAPI{
		urls:  map[string]string{"uid-9": "https://media/9"},
		media: map[string]string{"https://media/9": "x"},
	}
	svc, root := newService(t, api)
	record := export.CSVRecord{
		"RecordingCreated":  "2021-03-04 05:06:07",
		"RecordingLink":     "https://us.bbcollab.com/recording/uid-9",
		"SessionOwner":      "lti-key",
		"SessionName":       "Office Hours",
		"RecordingName":     "Recording_1",
		"ContextIdentifier": "BIO 200",
	}
	if _, err := svc.Run(context.Background(), []export.CSVRecord{record}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "bio-200", "20210304_0506_office-hours_recording_1.mp4")); err != nil {
		t.Fatalf("expected downloaded file: %v", err)
	}
}

func TestRecordingUIDFallsBackToColumn(t *testing.T) {
	record := export.CSVRecord{"recording_link": "https://eu.bbcollab.com/recording/x", "recording_uid": "x"}
	if got := recordingUID(record, "https://us.bbcollab.com/recording/"); got != "x" {
		t.Fatalf("recordingUID() = %q", got)
	}
	if got := recordingUID(export.CSVRecord{}, "https://us.bbcollab.com/recording/"); got != "" {
		t.Fatalf("recordingUID() = %q, want empty", got)
	}
}

func TestRunFileReadsCSV(t *testing.T) {
	api := &fakeAPI{
		urls:  map[string]string{"a": "https://media/a"},
		media: map[string]string{"https://media/a": "aaaa"},
	}
	svc, _ := newService(t, api)
	path := filepath.Join(t.TempDir(), "report.csv")
	content := "recording_created,recording_link,session_owner,session_name,recording_name,context_identifier\n" +
		"06/01/2016 14:30,https://us.bbcollab.com/recording/a,lti-key,Room,Rec,CS101\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	summary, err := svc.RunFile(context.Background(), path)
	if err != nil {
		t.Fatalf("RunFile() error = %v", err)
	}
	if summary.Downloaded != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRunRequiresLTIKey(t *testing.T) {
	svc := &Service{API: &fakeAPI{}}
	if _, err := svc.Run(context.Background(), nil); err == nil {
		t.Fatal("expected error without lti key")
	}
}
