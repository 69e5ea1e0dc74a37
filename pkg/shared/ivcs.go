package shared

import (
	"net/rpc"

	"github.com/hashicorp/go-plugin"

	"github.com/scan-io-git/vulnimpact/pkg/shared/errors"
)

type VCSRequestBase struct {
	Namespace  string
	Repository string
	Branch     string
}

// Ref converts the request base into a repository reference.
func (b VCSRequestBase) Ref() RepositoryRef {
	return RepositoryRef{Namespace: b.Namespace, Repository: b.Repository, Branch: b.Branch}
}

// NewVCSRequestBase builds the request base for a repository reference.
func NewVCSRequestBase(ref RepositoryRef) VCSRequestBase {
	return VCSRequestBase{Namespace: ref.Namespace, Repository: ref.Repository, Branch: ref.Branch}
}

type VCSGetFileRequest struct {
	VCSRequestBase
	Path string
}

type VCSGetFileResponse struct {
	Found   bool
	Content []byte
}

type VCSGetFileTreeRequest struct {
	VCSRequestBase
}

type VCSGetFileTreeResponse struct {
	Files []string
}

type VCSRemediationRequest struct {
	VCSRequestBase
	PackageName   string
	TargetVersion string
	Title         string
	Body          string
}

type VCSRemediationResponse struct {
	Response RemediationResponse
}

// VCS is the contract implemented by source-control plugins.
type VCS interface {
	GetFile(req VCSGetFileRequest) (VCSGetFileResponse, error)
	GetFileTree(req VCSGetFileTreeRequest) ([]string, error)
	CreateRemediationRequest(req VCSRemediationRequest) (RemediationResponse, error)
}

type VCSRPCClient struct{ client *rpc.Client }

func (g *VCSRPCClient) GetFile(req VCSGetFileRequest) (VCSGetFileResponse, error) {
	var resp VCSGetFileResponse
	err := g.client.Call("Plugin.GetFile", req, &resp)
	return resp, err
}

func (g *VCSRPCClient) GetFileTree(req VCSGetFileTreeRequest) ([]string, error) {
	var resp VCSGetFileTreeResponse
	err := g.client.Call("Plugin.GetFileTree", req, &resp)
	return resp.Files, err
}

func (g *VCSRPCClient) CreateRemediationRequest(req VCSRemediationRequest) (RemediationResponse, error) {
	var resp VCSRemediationResponse
	err := g.client.Call("Plugin.CreateRemediationRequest", req, &resp)
	return resp.Response, err
}

type VCSRPCServer struct {
	Impl VCS
}

func (s *VCSRPCServer) GetFile(args VCSGetFileRequest, resp *VCSGetFileResponse) error {
	file, err := s.Impl.GetFile(args)
	// net/rpc cannot carry sentinel errors, absence travels as Found=false
	if errors.IsNotFound(err) {
		*resp = VCSGetFileResponse{Found: false}
		return nil
	}
	*resp = file
	return err
}

func (s *VCSRPCServer) GetFileTree(args VCSGetFileTreeRequest, resp *VCSGetFileTreeResponse) error {
	files, err := s.Impl.GetFileTree(args)
	resp.Files = files
	return err
}

func (s *VCSRPCServer) CreateRemediationRequest(args VCSRemediationRequest, resp *VCSRemediationResponse) error {
	result, err := s.Impl.CreateRemediationRequest(args)
	resp.Response = result
	return err
}

type VCSPlugin struct {
	Impl VCS
}

func (p *VCSPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &VCSRPCServer{Impl: p.Impl}, nil
}

func (VCSPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &VCSRPCClient{client: c}, nil
}
