package terminal

import (
	"fmt"
	"io"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/go-delve/heapview/pkg/glibc"
)

// Addresses are written as hex strings, JSON numbers cannot hold every
// uint64.
func hex(v uint64) string {
	return fmt.Sprintf("%#x", v)
}

func writeReportJSON(out io.Writer, rep *glibc.Report) error {
	w := jwriter.NewWriter()
	obj := w.Object()
	obj.Name("heap_base").String(hex(rep.HeapBase))
	if rep.Arena != nil {
		obj.Name("arena").String(hex(rep.Arena.Addr))
	}
	obj.Name("layout").String(rep.Layout.Name())

	chunks := obj.Name("chunks").Array()
	for i := range rep.Chunks {
		writeChunkGroupJSON(&chunks, &rep.Chunks[i])
	}
	chunks.End()

	if rep.Top != nil {
		top := obj.Name("top").Object()
		top.Name("base").String(hex(rep.Top.Chunk.Base))
		top.Name("size").String(hex(rep.Top.Chunk.Size))
		writeWordJSON(top.Name("size_field"), &rep.Top.SizeField)
		writeWordJSON(top.Name("first_word"), &rep.Top.FirstWord)
		top.End()
	} else {
		obj.Name("top").Null()
	}
	if rep.Err != nil {
		obj.Name("error").String(rep.Err.Error())
	}
	writeWarningsJSON(&obj, rep.Warnings)
	obj.End()

	if err := w.Error(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%s\n", w.Bytes())
	return err
}

func writeChunkGroupJSON(arr *jwriter.ArrayState, g *glibc.ChunkGroup) {
	obj := arr.Object()
	defer obj.End()
	obj.Name("index").Int(g.Index)
	obj.Name("base").String(hex(g.Chunk.Base))
	obj.Name("size").String(hex(g.Chunk.Size))
	obj.Name("flags").String(g.Chunk.Flags.String())
	words := obj.Name("words").Array()
	for i := range g.Words {
		writeWordJSON(&words, &g.Words[i])
	}
	words.End()
}

// objectWriter is either a *jwriter.Writer or a *jwriter.ArrayState.
type objectWriter interface {
	Object() jwriter.ObjectState
}

func writeWordJSON(w objectWriter, rec *glibc.WordRecord) {
	obj := w.Object()
	defer obj.End()
	obj.Name("address").String(hex(rec.Addr))
	obj.Name("value").String(hex(rec.Value))
	obj.Name("ascii").String(rec.ASCII)
	if rec.Region.Mapped() {
		obj.Name("region").String(rec.Region.Name)
	}
	if rec.Known != "" {
		obj.Name("known").String(rec.Known)
	}
	if rec.Target != "" {
		obj.Name("target").String(rec.Target)
	}
}

func writeWarningsJSON(obj *jwriter.ObjectState, warnings []error) {
	arr := obj.Name("warnings").Array()
	for _, w := range warnings {
		arr.String(w.Error())
	}
	arr.End()
}

func writeKnownValuesJSON(out io.Writer, idx *glibc.Index) error {
	w := jwriter.NewWriter()
	obj := w.Object()
	for _, addr := range idx.Addresses() {
		label, _ := idx.Lookup(addr)
		obj.Name(hex(addr)).String(label)
	}
	obj.End()
	if err := w.Error(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%s\n", w.Bytes())
	return err
}
