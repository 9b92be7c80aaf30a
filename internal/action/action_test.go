package action

import (
	"testing"

	"github.com/GriffinCanCode/Builder-sub007/internal/digest"
)

func TestIDStringStable(t *testing.T) {
	id := ID{TargetID: "//foo:bar", Kind: KindCompile, SubID: "src/a.c", InputDigest: digest.Digest("abc123")}
	a := id.String()
	b := id.String()
	if a != b {
		t.Fatalf("ID.String() not stable: %q vs %q", a, b)
	}
	if a == "" {
		t.Fatal("ID.String() returned empty")
	}
}

func TestIDStringDistinguishesFields(t *testing.T) {
	base := ID{TargetID: "//foo:bar", Kind: KindCompile, SubID: "a.c", InputDigest: "d1"}
	variants := []ID{
		{TargetID: "//foo:baz", Kind: base.Kind, SubID: base.SubID, InputDigest: base.InputDigest},
		{TargetID: base.TargetID, Kind: KindLink, SubID: base.SubID, InputDigest: base.InputDigest},
		{TargetID: base.TargetID, Kind: base.Kind, SubID: "b.c", InputDigest: base.InputDigest},
		{TargetID: base.TargetID, Kind: base.Kind, SubID: base.SubID, InputDigest: "d2"},
	}
	baseStr := base.String()
	for i, v := range variants {
		if v.String() == baseStr {
			t.Errorf("variant %d collided with base: %q", i, baseStr)
		}
	}
}

func TestResultSuccess(t *testing.T) {
	cases := []struct {
		r    Result
		want bool
	}{
		{Result{Status: StatusSuccess, ExitCode: 0}, true},
		{Result{Status: StatusSuccess, ExitCode: 1}, false},
		{Result{Status: StatusFailure, ExitCode: 0}, false},
		{Result{Status: StatusTimeout, ExitCode: 0}, false},
	}
	for _, c := range cases {
		if got := c.r.Success(); got != c.want {
			t.Errorf("Result{%v,%d}.Success() = %v, want %v", c.r.Status, c.r.ExitCode, got, c.want)
		}
	}
}

func TestKindString(t *testing.T) {
	for k, want := range map[Kind]string{
		KindCompile: "compile",
		KindLink:    "link",
		KindCodegen: "codegen",
		KindTest:    "test",
		KindCustom:  "custom",
	} {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
