package terminal

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/go-delve/heapview/pkg/glibc"
	"github.com/go-delve/heapview/pkg/terminal/colorize"
)

const (
	leftArrow  = "← "
	rightArrow = " → "
	nulMarker  = "        ↓ [...] ↓"
)

// reportPrinter writes heap reports in the annotated text format.
type reportPrinter struct {
	w        io.Writer
	scheme   *colorize.Scheme
	collapse bool
	ptrSize  int
}

func formatAddress(ptrSize int, v uint64) string {
	if ptrSize == 4 {
		return fmt.Sprintf("0x%08x", v)
	}
	return fmt.Sprintf("0x%016x", v)
}

// sizeText formats a raw size field as the size followed by the names of
// its flag bits.
func sizeText(v uint64) string {
	s := fmt.Sprintf("%#x", v&^7)
	if flags := glibc.ChunkFlags(v & 7).String(); flags != "" {
		s += "|" + flags
	}
	return s
}

func (p *reportPrinter) addr(v uint64) string {
	return formatAddress(p.ptrSize, v)
}

func (p *reportPrinter) report(rep *glibc.Report) {
	arena := uint64(0)
	if rep.Arena != nil {
		arena = rep.Arena.Addr
	}
	fmt.Fprintf(p.w, "heap %#x, arena %#x, %s\n", rep.HeapBase, arena, rep.Layout.Name())
	for i := range rep.Chunks {
		p.chunk(&rep.Chunks[i])
	}
	if rep.Top != nil {
		p.top(rep.Top)
	}
	if rep.Err != nil {
		fmt.Fprintln(p.w, p.scheme.Paint(colorize.CorruptionStyle, "!! heap walk stopped: "+rep.Err.Error()))
	}
	p.warnings(rep.Warnings)
}

func (p *reportPrinter) warnings(warnings []error) {
	for _, w := range warnings {
		fmt.Fprintln(p.w, p.scheme.Paint(colorize.WarningStyle, "warning: "+w.Error()))
	}
}

func (p *reportPrinter) chunk(g *glibc.ChunkGroup) {
	n := len(g.Words)
	for i := 0; i < n; i++ {
		if p.collapse && i > 0 && i < n-1 && g.Words[i].Value == 0 {
			j := i
			for j < n-1 && g.Words[j].Value == 0 {
				j++
			}
			if j-i >= 3 {
				p.word(g, i)
				fmt.Fprintln(p.w, nulMarker)
				i = j - 1
				continue
			}
		}
		p.word(g, i)
	}
}

func (p *reportPrinter) word(g *glibc.ChunkGroup, i int) {
	w := &g.Words[i]
	var b strings.Builder
	fmt.Fprintf(&b, "%s    %s    %s", p.addr(w.Addr), p.scheme.PaintChunk(g.Index, p.addr(w.Value)), w.ASCII)
	switch i {
	case 0:
		fmt.Fprintf(&b, "    Chunk[%d]", g.Index)
	case 1:
		b.WriteString("    " + sizeText(w.Value))
	}
	p.annotate(&b, w)
	fmt.Fprintln(p.w, b.String())
}

func (p *reportPrinter) annotate(b *strings.Builder, w *glibc.WordRecord) {
	if w.Known != "" {
		b.WriteString("    " + p.scheme.Paint(colorize.KnownStyle, leftArrow+w.Known))
	}
	if w.Region.Mapped() {
		b.WriteString(" (in " + p.scheme.Paint(colorize.RegionStyle, w.Region.Name) + ")")
	}
	if w.Target != "" {
		b.WriteString(rightArrow + p.scheme.Paint(colorize.TargetStyle, w.Target))
	}
}

func (p *reportPrinter) top(t *glibc.TopRecord) {
	w := &t.SizeField
	fmt.Fprintf(p.w, "%s    %s    %s    %s    %s\n", p.addr(w.Addr), p.addr(w.Value), w.ASCII, sizeText(w.Value),
		p.scheme.Paint(colorize.TopStyle, leftArrow+"Top Chunk Size"))
	w = &t.FirstWord
	var b strings.Builder
	fmt.Fprintf(&b, "%s    %s    %s    %s", p.addr(w.Addr), p.addr(w.Value), w.ASCII,
		p.scheme.Paint(colorize.TopStyle, leftArrow+"Top Chunk"))
	p.annotate(&b, w)
	fmt.Fprintln(p.w, b.String())
}

// chunkLine is one row of the chunks command.
type chunkLine struct {
	chunk glibc.Chunk
	label string
}

func printChunks(w io.Writer, ptrSize int, lines []chunkLine, top *glibc.TopChunk, walkErr error) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "index\tbase\tsize\tflags\tfree list")
	for i, l := range lines {
		fmt.Fprintf(tw, "Chunk[%d]\t%s\t%#x\t%s\t%s\n", i, formatAddress(ptrSize, l.chunk.Base), l.chunk.Size, l.chunk.Flags, l.label)
	}
	if top != nil {
		fmt.Fprintf(tw, "Top\t%s\t%#x\t%s\t\n", formatAddress(ptrSize, top.Base), top.Size, top.Flags)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if walkErr != nil {
		fmt.Fprintf(w, "!! heap walk stopped: %v\n", walkErr)
	}
	return nil
}

// printBins writes the arena summary followed by every non-empty free
// list, one line per list with payload addresses in list order.
func printBins(w io.Writer, ptrSize int, arena *glibc.Arena, rec *glibc.Reconstruction) {
	fmt.Fprintf(w, "arena %s: top %s, last_remainder %s, system_mem %#x\n",
		formatAddress(ptrSize, arena.Addr), formatAddress(ptrSize, arena.Top),
		formatAddress(ptrSize, arena.LastRemainder), arena.SystemMem)
	entries := rec.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(w, "no free chunks")
	}
	for i := 0; i < len(entries); {
		j := i
		for j < len(entries) && entries[j].Kind == entries[i].Kind && entries[j].Slot == entries[i].Slot {
			j++
		}
		fmt.Fprintf(w, "%s (%d):", listName(entries[i]), j-i)
		for k := i; k < j; k++ {
			fmt.Fprintf(w, " %s", formatAddress(ptrSize, entries[k].Addr))
			if entries[k].Kind != glibc.CacheList {
				fmt.Fprintf(w, "[%#x]", entries[k].Size)
			}
		}
		fmt.Fprintln(w)
		i = j
	}
	for _, err := range rec.Warnings {
		fmt.Fprintf(w, "warning: %v\n", err)
	}
}

func listName(e glibc.Entry) string {
	if e.Kind == glibc.BinList {
		return fmt.Sprintf("bin[%s/%d]", glibc.BinName(e.Slot), e.Slot)
	}
	return fmt.Sprintf("%s[%d] size %#x", e.Kind, e.Slot, e.Size)
}

func printRegions(w io.Writer, ptrSize int, c *glibc.Classifier, spans bool) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	if spans {
		fmt.Fprintln(tw, "start\tend\tname")
		for _, s := range c.Spans() {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", formatAddress(ptrSize, s.Start), formatAddress(ptrSize, s.End), s.Name)
		}
		return tw.Flush()
	}
	fmt.Fprintln(tw, "start\tend\tperm\toffset\tname")
	for _, e := range c.Regions() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%#x\t%s\n", formatAddress(ptrSize, e.Addr), formatAddress(ptrSize, e.End()), e.Perms(), e.Offset, e.Filename)
	}
	return tw.Flush()
}
