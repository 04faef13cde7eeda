// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"strings"
	"testing"
)

func TestValues_OrderedAndComplete(t *testing.T) {
	t.Parallel()

	values := Values()
	if len(values) != int(CacheUnavailableId) {
		t.Fatalf("Values() returned %d guides, want %d", len(values), CacheUnavailableId)
	}
	for i, v := range values {
		if v.Id() != Id(i+1) {
			t.Errorf("Values()[%d].Id() = %d, want %d", i, v.Id(), i+1)
		}
		if strings.TrimSpace(string(v.MarkdownMsg())) == "" {
			t.Errorf("guide %d has no message", v.Id())
		}
	}
}

func TestGet_Unknown(t *testing.T) {
	t.Parallel()

	if Get(Id(999)) != nil {
		t.Error("Get(999) should return nil")
	}
}

func TestIssue_ExtLinksIsCopy(t *testing.T) {
	t.Parallel()

	i := Get(ContainerEngineNotFoundId)
	links := i.ExtLinks()
	if len(links) == 0 {
		t.Fatal("expected links")
	}
	links[0] = "changed"
	if i.ExtLinks()[0] == "changed" {
		t.Error("ExtLinks() should return a copy")
	}
}

func TestIssue_Render(t *testing.T) {
	t.Parallel()

	out, err := Get(BaseResolutionFailedId).Render("notty")
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if !strings.Contains(out, "base image could not be resolved") {
		t.Errorf("rendered guide missing title:\n%s", out)
	}
}

func TestIssue_RenderIncludesLinks(t *testing.T) {
	t.Parallel()

	out, err := Get(ContainerEngineNotFoundId).Render("notty")
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if !strings.Contains(out, "podman.io") {
		t.Errorf("rendered guide missing link:\n%s", out)
	}
}

func TestGuideFor(t *testing.T) {
	t.Parallel()

	inner := NewErrorContext().WithOperation("pull image").WithGuide(BaseResolutionFailedId).Wrap(errors.New("manifest unknown")).BuildError()
	outer := NewErrorContext().WithOperation("provision c").Wrap(inner).BuildError()

	id, ok := GuideFor(outer)
	if !ok || id != BaseResolutionFailedId {
		t.Errorf("GuideFor() = %d, %v; want %d, true", id, ok, BaseResolutionFailedId)
	}

	if _, ok := GuideFor(errors.New("plain")); ok {
		t.Error("GuideFor(plain error) should report no guide")
	}
	if _, ok := GuideFor(nil); ok {
		t.Error("GuideFor(nil) should report no guide")
	}
}
