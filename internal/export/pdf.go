package export

import (
	"context"
	"fmt"
	"html"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"lexicms/api/internal/util"
)

const pdfTimeout = 30 * time.Second

var chromeBinaries = []string{"chromium", "chromium-browser", "google-chrome", "headless-shell"}

// A4 in inches, with the site's print margins.
const (
	a4Width    = 8.27
	a4Height   = 11.69
	pageMargin = 0.6
)

func findChrome() (string, error) {
	for _, name := range chromeBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: none of %s installed", ErrPDFDependencyMissing, strings.Join(chromeBinaries, ", "))
}

// footerTemplate prints the page title and page counter at the bottom of
// every sheet. Chrome fills the pageNumber and totalPages spans.
func footerTemplate(title string) string {
	return `<div style="font-size:8px;width:100%;padding:0 0.6in;display:flex;justify-content:space-between;">` +
		`<span>` + html.EscapeString(title) + `</span>` +
		`<span><span class="pageNumber"></span> / <span class="totalPages"></span></span></div>`
}

func printParams(title string) *page.PrintToPDFParams {
	return page.PrintToPDF().
		WithPrintBackground(true).
		WithPaperWidth(a4Width).
		WithPaperHeight(a4Height).
		WithMarginTop(pageMargin).
		WithMarginBottom(pageMargin).
		WithMarginLeft(pageMargin).
		WithMarginRight(pageMargin).
		WithDisplayHeaderFooter(true).
		WithHeaderTemplate("<span></span>").
		WithFooterTemplate(footerTemplate(title)).
		WithGenerateTaggedPDF(true).
		WithGenerateDocumentOutline(true)
}

// exportPDF prints a rendered page document with headless Chrome. The document
// is loaded into a blank frame so the page's <title> and lang become the PDF
// metadata.
func exportPDF(parent context.Context, document string, title string) (*Result, error) {
	chrome, err := findChrome()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(parent, pdfTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(chrome),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()
	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var pdfData []byte
	err = chromedp.Run(taskCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, document).Do(ctx)
		}),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfData, _, err = printParams(title).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print page pdf: %w", err)
	}

	return &Result{
		Data:     pdfData,
		Filename: sanitizeFilename(title) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}

// sanitizeFilename derives a download name from a page title.
func sanitizeFilename(title string) string {
	result := util.Slugify(title)
	if len(result) > 50 {
		result = strings.TrimRight(result[:50], "-")
	}
	if result == "" {
		result = "page"
	}
	return result
}
