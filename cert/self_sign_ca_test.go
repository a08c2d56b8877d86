package cert_test

import (
	"crypto/x509"
	"os"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/tokentap/cert"
)

func TestNewCAGeneratesRoot(t *testing.T) {
	c := qt.New(t)
	ca, err := cert.NewSelfSignCAMemory()
	c.Assert(err, qt.IsNil)

	root := ca.GetRootCA()
	c.Assert(root.IsCA, qt.IsTrue)
	c.Assert(root.NotBefore.Before(time.Now()), qt.IsTrue)
	c.Assert(root.NotAfter.After(time.Now()), qt.IsTrue)
	c.Assert(ca.RootCAPath(), qt.Equals, "", qt.Commentf("memory CA should have no file"))
}

func TestNewCAWritesRootMaterial(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	ca, err := cert.NewSelfSignCA(dir)
	c.Assert(err, qt.IsNil)
	defer ca.Close()

	info, err := os.Stat(ca.RootCAPath())
	c.Assert(err, qt.IsNil)
	c.Assert(info.Size() > 0, qt.IsTrue)
}

func TestGetCertCoversHostAndWildcard(t *testing.T) {
	c := qt.New(t)
	ca, err := cert.NewSelfSignCAMemory()
	c.Assert(err, qt.IsNil)

	tlsCert, err := ca.GetCert("api.example.com")
	c.Assert(err, qt.IsNil)
	c.Assert(tlsCert.Leaf.DNSNames, qt.Contains, "api.example.com")
	c.Assert(tlsCert.Leaf.DNSNames, qt.Contains, "*.api.example.com")

	roots := x509.NewCertPool()
	roots.AddCert(ca.GetRootCA())
	_, err = tlsCert.Leaf.Verify(x509.VerifyOptions{
		DNSName: "api.example.com",
		Roots:   roots,
	})
	c.Assert(err, qt.IsNil, qt.Commentf("leaf should chain to the session root"))
}

func TestGetCertReturnsCachedMaterial(t *testing.T) {
	c := qt.New(t)
	ca, err := cert.NewSelfSignCAMemory()
	c.Assert(err, qt.IsNil)

	first, err := ca.GetCert("api.example.com")
	c.Assert(err, qt.IsNil)
	second, err := ca.GetCert("api.example.com")
	c.Assert(err, qt.IsNil)
	c.Assert(second, qt.Equals, first, qt.Commentf("repeated calls should return identical cached material"))
}

func TestGetCertConcurrentIssuanceSignsOnce(t *testing.T) {
	c := qt.New(t)
	caAPI, err := cert.NewSelfSignCAMemory()
	c.Assert(err, qt.IsNil)
	ca := caAPI.(*cert.SelfSignCA)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := ca.GetCert("api.example.com")
			c.Check(err, qt.IsNil)
		}()
	}
	close(start)
	wg.Wait()

	c.Assert(ca.SignCount(), qt.Equals, int64(1))
}

func TestCloseRemovesMaterialAndIsIdempotent(t *testing.T) {
	c := qt.New(t)
	ca, err := cert.NewSelfSignCA("")
	c.Assert(err, qt.IsNil)

	path := ca.RootCAPath()
	_, err = os.Stat(path)
	c.Assert(err, qt.IsNil)

	c.Assert(ca.Close(), qt.IsNil)
	_, err = os.Stat(path)
	c.Assert(os.IsNotExist(err), qt.IsTrue)

	c.Assert(ca.Close(), qt.IsNil, qt.Commentf("second close should not error"))
}
