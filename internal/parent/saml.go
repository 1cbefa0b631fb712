package parent

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/crewjam/saml"
	"github.com/crewjam/saml/samlsp"
	"github.com/ghaggin/envelope/internal/config"
	"github.com/ghaggin/envelope/internal/middleware"
	xrv "github.com/mattermost/xml-roundtrip-validator"
	dsig "github.com/russellhaering/goxmldsig"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const metadataFetchTimeout = 10 * time.Second

var errNoParentID = errors.New("assertion carries no uid attribute or name id")

// SAML is the service provider side of parent sign in. A nil *SAML means
// single sign-on is not configured.
type SAML struct {
	sp              *saml.ServiceProvider
	binding         string
	responseBinding string
	tracker         samlsp.RequestTracker
	sessions        *middleware.SessionManager
	log             *zap.Logger
}

type SAMLParams struct {
	fx.In

	Config   *config.Config
	Sessions *middleware.SessionManager
	Log      *zap.Logger
}

func NewSAML(p SAMLParams) (*SAML, error) {
	cfg := p.Config.Parent
	if !cfg.Enabled() {
		p.Log.Info("parent single sign-on disabled, identity provider not configured")
		return nil, nil
	}

	rootURL, err := url.Parse(p.Config.Server.BaseURL)
	if err != nil {
		return nil, err
	}

	key, cert, err := cfg.SP.Parse()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), metadataFetchTimeout)
	defer cancel()
	idpMetadata, err := loadIDPMetadata(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := samlsp.Options{
		EntityID:           cfg.EntityID,
		URL:                *rootURL,
		Key:                key,
		Certificate:        cert,
		IDPMetadata:        idpMetadata,
		AllowIDPInitiated:  true,
		DefaultRedirectURI: "/dashboard",
		LogoutBindings:     []string{saml.HTTPPostBinding},
	}

	s := &SAML{
		responseBinding: saml.HTTPPostBinding,
		sessions:        p.Sessions,
		log:             p.Log,
		sp: &saml.ServiceProvider{
			EntityID:           opts.EntityID,
			Key:                opts.Key,
			Certificate:        opts.Certificate,
			MetadataURL:        *opts.URL.ResolveReference(&url.URL{Path: "saml/metadata"}),
			AcsURL:             *opts.URL.ResolveReference(&url.URL{Path: "saml/acs"}),
			SloURL:             *opts.URL.ResolveReference(&url.URL{Path: "saml/slo"}),
			IDPMetadata:        opts.IDPMetadata,
			SignatureMethod:    dsig.RSASHA256SignatureMethod,
			AllowIDPInitiated:  opts.AllowIDPInitiated,
			DefaultRedirectURI: opts.DefaultRedirectURI,
			LogoutBindings:     opts.LogoutBindings,
		},
	}
	s.tracker = samlsp.DefaultRequestTracker(opts, s.sp)

	return s, nil
}

// Enabled reports whether single sign-on is configured.
func (s *SAML) Enabled() bool {
	return s != nil
}

func loadIDPMetadata(ctx context.Context, cfg config.Parent) (*saml.EntityDescriptor, error) {
	if cfg.IDPMetadataFile == "" {
		u, err := url.Parse(cfg.IDPMetadataURL)
		if err != nil {
			return nil, err
		}
		return samlsp.FetchMetadata(ctx, http.DefaultClient, *u)
	}

	data, err := os.ReadFile(cfg.IDPMetadataFile)
	if err != nil {
		return nil, err
	}
	return parseIDPMetadata(data)
}

func parseIDPMetadata(data []byte) (*saml.EntityDescriptor, error) {
	if err := xrv.Validate(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return samlsp.ParseMetadata(data)
}

func (s *SAML) ServeMetadata(w http.ResponseWriter, _ *http.Request) {
	buf, err := xml.MarshalIndent(s.sp.Metadata(), "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	if _, err := w.Write(buf); err != nil {
		s.log.Error("writing sp metadata", zap.Error(err))
	}
}

func (s *SAML) ServeACS(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil {
		s.onError(w, r, err)
		return
	}

	possibleRequestIDs := []string{}
	if s.sp.AllowIDPInitiated {
		possibleRequestIDs = append(possibleRequestIDs, "")
	}

	trackedRequests := s.tracker.GetTrackedRequests(r)
	for _, tr := range trackedRequests {
		possibleRequestIDs = append(possibleRequestIDs, tr.SAMLRequestID)
	}

	assertion, err := s.sp.ParseResponse(r, possibleRequestIDs)
	if err != nil {
		s.onError(w, r, err)
		return
	}

	uid, err := parentID(assertion)
	if err != nil {
		s.onError(w, r, err)
		return
	}

	if err := s.sessions.SetAuthenticated(r.Context(), uid); err != nil {
		s.onError(w, r, err)
		return
	}

	http.Redirect(w, r, s.sp.DefaultRedirectURI, http.StatusSeeOther)
}

func parentID(assertion *saml.Assertion) (string, error) {
	for _, as := range assertion.AttributeStatements {
		for _, a := range as.Attributes {
			if (a.FriendlyName == "uid" || a.Name == "uid") && len(a.Values) == 1 {
				return a.Values[0].Value, nil
			}
		}
	}

	if assertion.Subject != nil && assertion.Subject.NameID != nil && assertion.Subject.NameID.Value != "" {
		return assertion.Subject.NameID.Value, nil
	}

	return "", errNoParentID
}

func (s *SAML) HandleStartAuthFlow(w http.ResponseWriter, r *http.Request) {
	var binding, bindingLocation string
	if s.binding != "" {
		binding = s.binding
		bindingLocation = s.sp.GetSSOBindingLocation(binding)
	} else {
		binding = saml.HTTPRedirectBinding
		bindingLocation = s.sp.GetSSOBindingLocation(binding)
		if bindingLocation == "" {
			binding = saml.HTTPPostBinding
			bindingLocation = s.sp.GetSSOBindingLocation(binding)
		}
	}

	authReq, err := s.sp.MakeAuthenticationRequest(bindingLocation, binding, s.responseBinding)
	if err != nil {
		s.onError(w, r, err)
		return
	}

	// the relay state cookie ties the response back to this request
	relayState, err := s.tracker.TrackRequest(w, r, authReq.ID)
	if err != nil {
		s.onError(w, r, err)
		return
	}

	if binding == saml.HTTPRedirectBinding {
		redirectURL, err := authReq.Redirect(relayState, s.sp)
		if err != nil {
			s.onError(w, r, err)
			return
		}
		http.Redirect(w, r, redirectURL.String(), http.StatusFound)
		return
	}

	w.Header().Add("Content-Security-Policy", ""+
		"default-src; "+
		"script-src 'sha256-AjPdJSbZmeWHnEc5ykvJFay8FTWeTeRbs9dutfZ0HqE='; "+
		"reflected-xss block; referrer no-referrer;")
	w.Header().Add("Content-type", "text/html")
	var buf bytes.Buffer
	buf.WriteString(`<!DOCTYPE html><html><body>`)
	buf.Write(authReq.Post(relayState))
	buf.WriteString(`</body></html>`)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.log.Error("writing saml post form", zap.Error(err))
	}
}

func (s *SAML) onError(w http.ResponseWriter, _ *http.Request, err error) {
	s.log.Warn("parent sign in failed", zap.Error(err))
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}
