package agent

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/WessleyAI/pagerag/engine/pdfpage"
	"github.com/WessleyAI/pagerag/engine/retrieval"
	"github.com/WessleyAI/pagerag/engine/semantic"
)

// grayRenderer renders n pages per document, page p filled with gray level p.
type grayRenderer struct{ pages int }

func (g grayRenderer) Render(_ context.Context, _ string, outDir string) ([]string, error) {
	var out []string
	for p := 1; p <= g.pages; p++ {
		img := image.NewGray(image.Rect(0, 0, 2, 2))
		for i := range img.Pix {
			img.Pix[i] = uint8(p)
		}
		path := filepath.Join(outDir, fmt.Sprintf("page-%d.png", p))
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		png.Encode(f, img)
		f.Close()
		out = append(out, path)
	}
	return out, nil
}

// topicEmbedder maps page gray level k and known questions to axis k.
type topicEmbedder struct{ questions map[string]int }

func axis(k int) [][]float32 {
	v := make([]float32, 4)
	v[k%4] = 1
	return [][]float32{v}
}

func (e topicEmbedder) EmbedImages(_ context.Context, imgs []image.Image) ([][][]float32, error) {
	out := make([][][]float32, len(imgs))
	for i, img := range imgs {
		out[i] = axis(int(color.GrayModel.Convert(img.At(0, 0)).(color.Gray).Y))
	}
	return out, nil
}

func (e topicEmbedder) EmbedQuery(_ context.Context, q string) ([][]float32, error) {
	if k, ok := e.questions[q]; ok {
		return axis(k), nil
	}
	return [][]float32{{0.1, 0.1, 0.1, 0.1}}, nil
}

func newPipeline(t *testing.T, web *fakeProvider) (*Orchestrator, *semantic.Memory) {
	t.Helper()
	imgDir := t.TempDir()
	ext, err := pdfpage.New(imgDir, grayRenderer{pages: 3}, nil, discard())
	if err != nil {
		t.Fatal(err)
	}
	mem := semantic.NewMemory()
	emb := topicEmbedder{questions: map[string]int{"How do I bleed the brakes?": 2}}
	opts := retrieval.DefaultOptions()
	opts.ImageDir = imgDir
	opts.VectorSize = 4
	eng := retrieval.New(emb, mem, opts, discard())
	return New(ext, eng, web, Options{SpoolDir: t.TempDir()}, discard()), mem
}

func TestPipelineManualThenFrance(t *testing.T) {
	web := &fakeProvider{snippets: []string{"Paris is the capital of France."}}
	o, mem := newPipeline(t, web)
	ctx := context.Background()

	res, err := o.Index(ctx, []File{{Name: "manual.pdf", Data: []byte("%PDF-1.4")}})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if res.PagesExtracted != 3 || res.PagesIndexed != 3 {
		t.Fatalf("unexpected index result: %+v", res)
	}
	if n, _ := mem.Count(ctx); n != 3 {
		t.Fatalf("expected 3 points, got %d", n)
	}

	local := o.Answer(ctx, "How do I bleed the brakes?")
	if local.Route != RouteLocal || len(local.Evidence) == 0 {
		t.Fatalf("expected local answer, got %+v", local)
	}
	if m := local.Evidence[0].Metadata; m.PageNumber != 2 || m.Filename != "manual.pdf" {
		t.Fatalf("expected manual.pdf page 2 first, got %+v", m)
	}
	if web.calls != 0 {
		t.Fatal("web search should not run for a local hit")
	}

	france := o.Answer(ctx, "What is the capital of France?")
	if france.Route != RouteWeb || france.Text != "Paris is the capital of France." {
		t.Fatalf("expected web answer, got %+v", france)
	}
}

func TestPipelineEmptyIndexFallsBack(t *testing.T) {
	web := &fakeProvider{snippets: []string{"from the web"}}
	o, _ := newPipeline(t, web)

	res := o.Answer(context.Background(), "How do I bleed the brakes?")
	if res.Route != RouteWeb || res.Text != "from the web" {
		t.Fatalf("empty index should fall back to web: %+v", res)
	}
}
