package disc_test

import (
	"context"
	"errors"
	"testing"

	"ingestorchestrator/internal/disc"
)

type stubExec struct {
	output []byte
	err    error
}

func (s stubExec) Run(ctx context.Context, binary string, args []string) ([]byte, error) {
	return s.output, s.err
}

const sampleRobotOutput = `CINFO:32,0,"ABCD1234EF567890"
TINFO:0,2,0,"Main Feature"
TINFO:0,8,0,"12"
TINFO:0,9,0,"2:00:00"
TINFO:0,11,0,"35000000000"
TINFO:0,25,0,"1"
TINFO:0,26,0,"0"
SINFO:0,0,1,4352,"Video"
SINFO:0,0,19,4352,"1920x1080"
TINFO:1,2,0,"Main Feature Playlist"
TINFO:1,9,0,"2:00:05"
TINFO:1,25,0,"2"
TINFO:1,26,0,"0,1"
`

func TestScannerParsesFingerprintAndTitles(t *testing.T) {
	scanner := disc.NewScannerWithExecutor("makemkvcon", stubExec{output: []byte(sampleRobotOutput)})
	result, err := scanner.Scan(context.Background(), "/dev/sr0")
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if result.Fingerprint != "ABCD1234EF567890" {
		t.Fatalf("unexpected fingerprint: %s", result.Fingerprint)
	}
	if len(result.Titles) != 2 {
		t.Fatalf("unexpected titles: %#v", result.Titles)
	}
	main := result.Titles[0]
	if main.Name != "Main Feature" || main.Duration != 7200 {
		t.Fatalf("unexpected main title: %#v", main)
	}
	if main.SizeBytes != 35000000000 {
		t.Fatalf("unexpected size bytes: %d", main.SizeBytes)
	}
	if main.Resolution != "1920x1080" {
		t.Fatalf("unexpected resolution: %q", main.Resolution)
	}
}

func TestScannerRequiresFingerprint(t *testing.T) {
	scanner := disc.NewScannerWithExecutor("makemkvcon", stubExec{output: []byte("TINFO:0,2,0,\"No Fingerprint\"\n")})
	if _, err := scanner.Scan(context.Background(), "/dev/sr0"); !errors.Is(err, disc.ErrFingerprintMissing) {
		t.Fatalf("expected fingerprint error, got %v", err)
	}
}

func TestScannerNeedsBinary(t *testing.T) {
	scanner := disc.NewScannerWithExecutor("", stubExec{})
	if _, err := scanner.Scan(context.Background(), "/dev/sr0"); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestListTitlesMarksPlaylistsByCompositeSegments(t *testing.T) {
	scanner := disc.NewScannerWithExecutor("makemkvcon", stubExec{output: []byte(sampleRobotOutput)})
	titles, err := scanner.ListTitles(context.Background(), "/dev/sr0")
	if err != nil {
		t.Fatalf("ListTitles returned error: %v", err)
	}
	if len(titles) != 2 {
		t.Fatalf("unexpected title count: %d", len(titles))
	}
	if titles[0].IsPlayAll {
		t.Fatalf("expected single-segment title to not be a play-all: %#v", titles[0])
	}
	if !titles[1].IsPlayAll {
		t.Fatalf("expected two-segment title to be a play-all: %#v", titles[1])
	}
	if titles[0].DurationSeconds != 7200 || titles[0].ExpectedBytes != 35000000000 {
		t.Fatalf("unexpected translated title: %#v", titles[0])
	}
}
