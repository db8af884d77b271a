package cloud

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/rvm-io/rvm-server/internal/config"
)

// SessionFactory issues a scoped control-plane client for one target
// account.
type SessionFactory interface {
	ForAccount(ctx context.Context, accountID string) (StackClient, error)
}

// STSAPI is the slice of the STS client the factory needs.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// STSSessionFactory assumes the per-account workflow role and builds a
// CloudFormation client from the returned temporary credentials.
type STSSessionFactory struct {
	base              aws.Config
	sts               STSAPI
	region            string
	roleName          string
	sessionNamePrefix string
	capabilities      []string
}

func NewSTSSessionFactory(base aws.Config, cfg *config.Config) *STSSessionFactory {
	return &STSSessionFactory{
		base:              base,
		sts:               sts.NewFromConfig(base),
		region:            cfg.Region,
		roleName:          cfg.WorkflowRole,
		sessionNamePrefix: cfg.SessionNamePrefix,
		capabilities:      cfg.Capabilities,
	}
}

func (f *STSSessionFactory) ForAccount(ctx context.Context, accountID string) (StackClient, error) {
	roleArn := fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, f.roleName)

	out, err := f.sts.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleArn),
		RoleSessionName: aws.String(f.sessionNamePrefix + "-" + accountID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to assume role %s: %w", roleArn, err)
	}

	creds := out.Credentials
	scoped := f.base.Copy()
	scoped.Region = f.region
	scoped.Credentials = credentials.NewStaticCredentialsProvider(
		aws.ToString(creds.AccessKeyId),
		aws.ToString(creds.SecretAccessKey),
		aws.ToString(creds.SessionToken),
	)

	slog.Info("assumed role", "component", "cloud", "role_arn", roleArn)
	return newCFNStackClient(cloudformation.NewFromConfig(scoped), f.capabilities), nil
}
