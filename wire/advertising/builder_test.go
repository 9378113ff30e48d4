package advertising

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

var (
	colourService = uuid.MustParse("96E4D99A-066F-444C-B67C-112345E3B1A2")
	batteryUUID   = uuid.MustParse("0000180F-0000-1000-8000-00805F9B34FB")
)

func TestBuildFitsInAdvertisingData(t *testing.T) {
	p, err := Build("Dev", []uuid.UUID{batteryUUID})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if p.Overflowed || p.ScanResponse != nil {
		t.Errorf("nothing should overflow, got scan response % X", p.ScanResponse)
	}
	// flags(3) + 16-bit list(4) + name(5)
	if len(p.AdvData) != 12 {
		t.Errorf("AdvData length = %d, want 12", len(p.AdvData))
	}

	uuids, err := ServiceUUIDs(p.AdvData)
	if err != nil {
		t.Fatalf("ServiceUUIDs failed: %v", err)
	}
	if len(uuids) != 1 || uuids[0] != batteryUUID {
		t.Errorf("ServiceUUIDs = %v, want [%s]", uuids, batteryUUID)
	}
}

func TestBuildNameOverflowsToScanResponse(t *testing.T) {
	p, err := Build("ColorServer", []uuid.UUID{colourService})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !p.Overflowed {
		t.Fatal("Expected the name to overflow")
	}

	advName, _ := LocalName(p.AdvData)
	if advName != "" {
		t.Errorf("advertising data should not carry the name, got %q", advName)
	}
	name, err := LocalName(p.AdvData, p.ScanResponse)
	if err != nil {
		t.Fatalf("LocalName failed: %v", err)
	}
	if name != "ColorServer" {
		t.Errorf("LocalName = %q, want ColorServer", name)
	}

	uuids, _ := ServiceUUIDs(p.AdvData)
	if len(uuids) != 1 || uuids[0] != colourService {
		t.Errorf("ServiceUUIDs = %v, want [%s]", uuids, colourService)
	}
}

func TestBuildUUIDOverflowAndDrop(t *testing.T) {
	a := uuid.MustParse("7C0209C0-93F0-437A-828A-A58379B230C4")
	b := uuid.MustParse("3D84E60B-90D0-40D4-993A-1B83424CB868")
	p, err := Build("X", []uuid.UUID{colourService, a, b})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	adv, _ := Unmarshal(p.AdvData)
	var carried int
	for _, f := range adv {
		if f.Type == TypeAll128 {
			t.Error("partial list must be marked incomplete")
		}
		if f.Type == TypeSome128 {
			carried += len(f.Services())
		}
	}
	if carried != 1 {
		t.Fatalf("advertising data carries %d 128-bit UUIDs, want 1", carried)
	}

	all, _ := ServiceUUIDs(p.AdvData, p.ScanResponse)
	if len(all) != 2 || all[1] != a {
		t.Errorf("ServiceUUIDs = %v", all)
	}
	if len(p.Dropped) != 1 || p.Dropped[0] != b.String() {
		t.Errorf("Dropped = %v, want [%s]", p.Dropped, b)
	}
	if name, _ := LocalName(p.AdvData); name != "X" {
		t.Errorf("short name should still fit in advertising data, got %q", name)
	}
}

func TestBuildShortensLongName(t *testing.T) {
	long := strings.Repeat("a", 40)
	p, err := Build(long, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	rsp, _ := Unmarshal(p.ScanResponse)
	if len(rsp) != 1 || rsp[0].Type != TypeShortLocalName {
		t.Fatalf("scan response = %+v, want one shortened name", rsp)
	}
	if len(rsp[0].Data) != 29 {
		t.Errorf("shortened name length = %d, want 29", len(rsp[0].Data))
	}
	if len(p.ScanResponse) > MaxPacketLen {
		t.Errorf("scan response is %d bytes", len(p.ScanResponse))
	}
}

func TestBuildEmpty(t *testing.T) {
	p, err := Build("", nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(p.AdvData) != 3 || p.ScanResponse != nil {
		t.Errorf("empty advertisement should carry only flags, got % X / % X", p.AdvData, p.ScanResponse)
	}
}

func TestTruncateNameKeepsRunes(t *testing.T) {
	if got := truncateName("héllo", 2); got != "h" {
		t.Errorf("truncateName = %q, want %q", got, "h")
	}
	if got := truncateName("abc", 5); got != "abc" {
		t.Errorf("truncateName = %q, want abc", got)
	}
}
