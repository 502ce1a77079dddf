package reconcile_test

import (
	"encoding/json"
	"testing"

	"reelflow/internal/reconcile"
	"reelflow/internal/services/backend"
)

func strPtr(s string) *string { return &s }

func TestCameraStringAndObjectProduceSameDisplay(t *testing.T) {
	asString := backend.Shot{ShotID: "s1", CameraConfig: json.RawMessage(`"{\"movement\":\"dolly in\",\"lens\":\"35mm\"}"`)}
	asObject := backend.Shot{ShotID: "s2", CameraConfig: json.RawMessage(`{"lens":"35mm","movement":"dolly in"}`)}

	a := reconcile.FromBackend(asString)
	b := reconcile.FromBackend(asObject)
	if a.AIPlan == nil || b.AIPlan == nil || a.AIPlan.Camera == nil || b.AIPlan.Camera == nil {
		t.Fatalf("expected camera display on both shots: %+v %+v", a.AIPlan, b.AIPlan)
	}
	if *a.AIPlan.Camera != *b.AIPlan.Camera {
		t.Fatalf("camera display differs: %q vs %q", *a.AIPlan.Camera, *b.AIPlan.Camera)
	}
}

func TestUnparseableCameraFallsBackToRawText(t *testing.T) {
	shot := reconcile.FromBackend(backend.Shot{ShotID: "s1", CameraConfig: json.RawMessage(`"Slow drone push-in {"`)})
	if shot.AIPlan == nil || shot.AIPlan.Camera == nil || *shot.AIPlan.Camera != "Slow drone push-in {" {
		t.Fatalf("expected raw camera text, got %+v", shot.AIPlan)
	}
	if shot.AIPlan.Metaphor != nil {
		t.Fatalf("expected absent metaphor, got %q", *shot.AIPlan.Metaphor)
	}
}

func TestZeroPromptAssetsYieldsNilPrompts(t *testing.T) {
	shot := reconcile.FromBackend(backend.Shot{
		ShotID:       "s1",
		Metaphor:     strPtr("A weeping city"),
		CameraConfig: json.RawMessage(`{"movement":"pan"}`),
		Assets: []backend.Asset{
			{AssetID: "img1", Type: "IMAGE_START", Role: "start_ref"},
		},
	})
	if shot.Prompts != nil {
		t.Fatalf("expected nil prompts, got %+v", shot.Prompts)
	}
	if shot.AIPlan == nil || shot.AIPlan.Metaphor == nil {
		t.Fatal("expected ai plan with metaphor")
	}
}

func TestPromptAssetsAreExcludedFromMediaAndFeedPrompts(t *testing.T) {
	shot := reconcile.FromBackend(backend.Shot{
		ShotID:       "s1",
		Metaphor:     strPtr("A heart skipping a beat"),
		CameraConfig: json.RawMessage(`"{\"movement\":\"shaky cam\"}"`),
		Assets: []backend.Asset{
			{AssetID: "p1", Type: "PROMPT", Role: "start_ref", Metadata: json.RawMessage(`"{\"prompt\":\"substation at night\"}"`)},
			{AssetID: "p2", Type: "PROMPT", Role: "end_ref", Metadata: json.RawMessage(`{"text":"sparks in the dark"}`)},
			{AssetID: "i1", Type: "IMAGE_START", Role: "start_ref", URL: "https://cdn.example/i1.png"},
			{AssetID: "c1", Type: "CLIP", Role: "final_clip"},
		},
	})

	if len(shot.Assets) != 2 {
		t.Fatalf("expected 2 media assets, got %+v", shot.Assets)
	}
	for _, asset := range shot.Assets {
		if asset.Type == "PROMPT" {
			t.Fatalf("prompt asset leaked into media: %+v", asset)
		}
	}
	if shot.Assets[0].URL != "https://cdn.example/i1.png" {
		t.Fatalf("unexpected embedded url %q", shot.Assets[0].URL)
	}
	if shot.Assets[1].URL != "/api/assets/c1/file" {
		t.Fatalf("unexpected synthesized url %q", shot.Assets[1].URL)
	}

	if shot.Prompts == nil {
		t.Fatal("expected prompts")
	}
	if shot.Prompts.ImageA == nil || *shot.Prompts.ImageA != "substation at night" {
		t.Fatalf("unexpected image_a %v", shot.Prompts.ImageA)
	}
	if shot.Prompts.ImageB == nil || *shot.Prompts.ImageB != "sparks in the dark" {
		t.Fatalf("unexpected image_b %v", shot.Prompts.ImageB)
	}
	if shot.Prompts.Video == nil || *shot.Prompts.Video != "A heart skipping a beat, shaky cam movement" {
		t.Fatalf("unexpected video prompt %v", shot.Prompts.Video)
	}
}

func TestMalformedMetadataDegradesOnlyThatField(t *testing.T) {
	shot := reconcile.FromBackend(backend.Shot{
		ShotID:   "s1",
		Metaphor: strPtr("Reflection"),
		Assets: []backend.Asset{
			{AssetID: "p1", Type: "PROMPT", Role: "start_ref", Metadata: json.RawMessage(`"not json"`)},
			{AssetID: "p2", Type: "PROMPT", Role: "end_ref", Metadata: json.RawMessage(`{"prompt":"eye close-up"}`)},
		},
	})
	if shot.Prompts == nil {
		t.Fatal("expected prompts")
	}
	if shot.Prompts.ImageA != nil {
		t.Fatalf("expected absent image_a, got %q", *shot.Prompts.ImageA)
	}
	if shot.Prompts.ImageB == nil || *shot.Prompts.ImageB != "eye close-up" {
		t.Fatalf("unexpected image_b %v", shot.Prompts.ImageB)
	}
	if shot.Prompts.Video == nil || *shot.Prompts.Video != "Reflection" {
		t.Fatalf("unexpected video %v", shot.Prompts.Video)
	}
}

func TestVideoPromptOmittedWithoutMetaphorOrCamera(t *testing.T) {
	shot := reconcile.FromBackend(backend.Shot{
		ShotID: "s1",
		Assets: []backend.Asset{
			{AssetID: "p1", Type: "PROMPT", Role: "start_ref", Metadata: json.RawMessage(`{"prompt":"wide city"}`)},
		},
	})
	if shot.AIPlan != nil {
		t.Fatalf("expected nil ai plan, got %+v", shot.AIPlan)
	}
	if shot.Prompts == nil || shot.Prompts.Video != nil {
		t.Fatalf("expected prompts without video, got %+v", shot.Prompts)
	}
	if shot.DurationS != nil {
		t.Fatal("expected absent duration")
	}
}

func TestStructuredCameraWithoutMovementIsStatic(t *testing.T) {
	shot := reconcile.FromBackend(backend.Shot{
		ShotID:       "s1",
		Metaphor:     strPtr("Stillness"),
		CameraConfig: json.RawMessage(`{"lens":"85mm"}`),
		Assets:       []backend.Asset{{AssetID: "p1", Type: "PROMPT", Role: "start_ref", Metadata: json.RawMessage(`{}`)}},
	})
	if shot.Prompts == nil || shot.Prompts.Video == nil || *shot.Prompts.Video != "Stillness, static movement" {
		t.Fatalf("unexpected prompts %+v", shot.Prompts)
	}
}

func TestMerge(t *testing.T) {
	shots := []reconcile.Shot{{ID: "s1", Status: "PLANNED"}, {ID: "s2", Status: "PLANNED"}}
	merged := reconcile.Merge(shots, reconcile.Shot{ID: "s2", Status: "DONE"})
	if merged[1].Status != "DONE" || shots[1].Status != "PLANNED" {
		t.Fatalf("merge should replace without mutating input: %+v %+v", merged, shots)
	}
	merged = reconcile.Merge(merged, reconcile.Shot{ID: "s3"})
	if len(merged) != 3 {
		t.Fatalf("expected appended shot, got %d", len(merged))
	}
	if _, ok := reconcile.Find(merged, "s3"); !ok {
		t.Fatal("expected to find s3")
	}
}
