package recollect

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"go4.org/netipx"
	"golang.org/x/sync/errgroup"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

var (
	ErrUnsafeURL     = errors.New("unsafe url")
	ErrImageTooLarge = errors.New("image exceeds size limit")
	ErrNotImage      = errors.New("response is not an image")
)

const maxMediaRedirects = 3

// blockedPrefixes are ranges an image URL may never resolve to:
// private, loopback, link-local, shared (CGNAT), multicast, reserved,
// unspecified and documentation networks.
var blockedPrefixes = []string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::/128",
	"::1/128",
	"64:ff9b::/96",
	"100::/64",
	"2001:db8::/32",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
}

// blockedIPSet is built once from blockedPrefixes
var blockedIPSet = mustBuildIPSet(blockedPrefixes...)

func mustBuildIPSet(prefixes ...string) *netipx.IPSet {
	var b netipx.IPSetBuilder
	for _, p := range prefixes {
		b.AddPrefix(netip.MustParsePrefix(p))
	}
	set, err := b.IPSet()
	if err != nil {
		panic(err)
	}
	return set
}

// isBlockedAddr reports whether addr falls in a blocked range. IPv4-mapped
// IPv6 addresses are checked as IPv4.
func isBlockedAddr(addr netip.Addr) bool {
	if !addr.IsValid() {
		return true
	}
	return blockedIPSet.Contains(addr.Unmap())
}

type hostResolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// FetchedImage is an image downloaded for a vision request, inlined as a
// base64 data URL.
type FetchedImage struct {
	SourceURL   string
	ContentType string
	Size        int
	DataURL     string
}

func (f FetchedImage) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("source_url", f.SourceURL),
		slog.String("content_type", f.ContentType),
		slog.Int("size", f.Size),
	)
}

// MediaFetcher downloads images referenced by messages.
//
// Only https URLs are fetched, and only when the host resolves to public
// addresses. The address is checked again when dialing, so a DNS answer
// that changes between the check and the connection is still caught.
// Bodies over [MediaConfig.MaxImageBytes] are abandoned mid-stream.
type MediaFetcher struct {
	client   *http.Client
	config   *MediaConfig
	resolver hostResolver
	logger   *slog.Logger
}

// NewMediaFetcher returns a MediaFetcher. If client is nil, a client
// that refuses to dial blocked addresses is used.
func NewMediaFetcher(config *MediaConfig, client *http.Client, logger *slog.Logger) *MediaFetcher {
	if config == nil {
		config = DefaultConfig().Media
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &MediaFetcher{
		config:   config,
		resolver: net.DefaultResolver,
		logger:   logger.With(loggerNameKey, "media"),
	}
	if client == nil {
		client = f.guardedClient()
	}
	c := *client
	c.CheckRedirect = f.checkRedirect
	f.client = &c
	return f
}

func (f *MediaFetcher) guardedClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: f.config.FetchTimeout,
		Control: func(_, address string, _ syscall.RawConn) error {
			if f.config.AllowPrivate {
				return nil
			}
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrUnsafeURL, address)
			}
			addr, err := netip.ParseAddr(host)
			if err != nil || isBlockedAddr(addr) {
				return fmt.Errorf("%w: %s", ErrUnsafeURL, address)
			}
			return nil
		},
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Transport: transport, Timeout: f.config.FetchTimeout}
}

func (f *MediaFetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxMediaRedirects {
		return fmt.Errorf("stopped after %d redirects", maxMediaRedirects)
	}
	_, err := f.ValidateURL(req.Context(), req.URL.String())
	return err
}

// ValidateURL returns the parsed URL if it's safe to fetch: https, no
// credentials, and a host that doesn't resolve to a blocked address.
func (f *MediaFetcher) ValidateURL(ctx context.Context, rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsafeURL, err)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be https", ErrUnsafeURL)
	}
	if u.User != nil {
		return nil, fmt.Errorf("%w: credentials in url", ErrUnsafeURL)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrUnsafeURL)
	}
	if f.config.AllowPrivate {
		return u, nil
	}

	if addr, e := netip.ParseAddr(host); e == nil {
		if isBlockedAddr(addr) {
			return nil, fmt.Errorf("%w: blocked address %s", ErrUnsafeURL, addr)
		}
		return u, nil
	}

	addrs, err := f.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("error resolving %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s did not resolve", ErrUnsafeURL, host)
	}
	for _, addr := range addrs {
		if isBlockedAddr(addr) {
			return nil, fmt.Errorf("%w: %s resolves to %s", ErrUnsafeURL, host, addr)
		}
	}
	return u, nil
}

// Fetch downloads a single image.
func (f *MediaFetcher) Fetch(ctx context.Context, rawURL string) (FetchedImage, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.FetchTimeout)
	defer cancel()

	u, err := f.ValidateURL(ctx, rawURL)
	if err != nil {
		return FetchedImage{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return FetchedImage{}, err
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchedImage{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return FetchedImage{}, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	limit := f.config.MaxImageBytes
	if resp.ContentLength > limit {
		return FetchedImage{}, fmt.Errorf("%w: %d bytes", ErrImageTooLarge, resp.ContentLength)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return FetchedImage{}, fmt.Errorf("error reading image: %w", err)
	}
	if int64(len(body)) > limit {
		return FetchedImage{}, fmt.Errorf("%w: over %d bytes", ErrImageTooLarge, limit)
	}

	contentType := imageContentType(resp.Header.Get("Content-Type"), body)
	if contentType == "" {
		return FetchedImage{}, ErrNotImage
	}
	return FetchedImage{
		SourceURL:   rawURL,
		ContentType: contentType,
		Size:        len(body),
		DataURL: fmt.Sprintf(
			"data:%s;base64,%s",
			contentType,
			base64.StdEncoding.EncodeToString(body),
		),
	}, nil
}

// FetchAll downloads up to [MediaConfig.MaxImages] images concurrently.
// Failed or rejected images are logged and skipped. The order of urls is
// kept.
func (f *MediaFetcher) FetchAll(ctx context.Context, urls []string) []FetchedImage {
	if len(urls) > f.config.MaxImages {
		urls = urls[:f.config.MaxImages]
	}
	if len(urls) == 0 {
		return nil
	}
	logger := contextLoggerOr(ctx, f.logger)

	results := make([]*FetchedImage, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(
			func() error {
				start := time.Now()
				img, err := f.Fetch(gctx, u)
				if err != nil {
					logger.WarnContext(gctx, "skipping image", "url", u, tint.Err(err))
					return nil
				}
				logger.DebugContext(
					gctx,
					"fetched image",
					"image", img,
					"duration", time.Since(start),
				)
				results[i] = &img
				return nil
			},
		)
	}
	_ = g.Wait()

	images := make([]FetchedImage, 0, len(urls))
	for _, img := range results {
		if img != nil {
			images = append(images, *img)
		}
	}
	return images
}

// imageContentType returns the image media type from the header, falling
// back to sniffing the body. It's empty if the body isn't an image.
func imageContentType(header string, body []byte) string {
	if mediaType, _, err := mime.ParseMediaType(header); err == nil &&
		strings.HasPrefix(mediaType, "image/") {
		return mediaType
	}
	sniffed, _, _ := strings.Cut(http.DetectContentType(body), ";")
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return ""
}
