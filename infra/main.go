// Command infra provisions a single quakecast server on Compute Engine.
//
// The instance runs Container-Optimized OS with the quakecast image behind
// Caddy for TLS. Last-seen event ids persist in a dedicated Firestore
// database so restarts resume the feed where they left off.
package main

import (
	"fmt"

	"github.com/pulumi/pulumi-gcp/sdk/v7/go/gcp/artifactregistry"
	"github.com/pulumi/pulumi-gcp/sdk/v7/go/gcp/compute"
	"github.com/pulumi/pulumi-gcp/sdk/v7/go/gcp/firestore"
	"github.com/pulumi/pulumi-gcp/sdk/v7/go/gcp/projects"
	"github.com/pulumi/pulumi-gcp/sdk/v7/go/gcp/serviceaccount"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
)

const serverTag = "quakecast-server"

type settings struct {
	env         string
	project     string
	region      string
	zone        string
	machineType string
	domain      string
	feedURL     string
	feedBearer  pulumi.StringOutput
	adminUser   string
	adminPass   pulumi.StringOutput
	prefix      string
}

func loadSettings(ctx *pulumi.Context) settings {
	cfg := config.New(ctx, "quakecast-infra")
	gcpCfg := config.New(ctx, "gcp")

	s := settings{
		env:         cfg.Require("environment"),
		project:     gcpCfg.Require("project"),
		region:      orDefault(gcpCfg.Get("region"), "europe-west3"),
		zone:        orDefault(gcpCfg.Get("zone"), "europe-west3-a"),
		machineType: orDefault(cfg.Get("machineType"), "e2-micro"),
		domain:      cfg.Get("domain"),
		feedURL:     cfg.Require("feedEndpoint"),
		feedBearer:  cfg.GetSecret("feedBearer"),
		adminUser:   orDefault(cfg.Get("adminUser"), "admin"),
		adminPass:   cfg.RequireSecret("adminPass"),
	}
	s.prefix = "quakecast-" + s.env
	return s
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func main() {
	pulumi.Run(func(ctx *pulumi.Context) error {
		s := loadSettings(ctx)

		apiDeps, err := enableAPIs(ctx, s)
		if err != nil {
			return err
		}

		if _, err := artifactregistry.NewRepository(ctx, s.prefix+"-registry", &artifactregistry.RepositoryArgs{
			RepositoryId: pulumi.String("quakecast"),
			Location:     pulumi.String(s.region),
			Format:       pulumi.String("DOCKER"),
			Description:  pulumi.String("Docker images for quakecast"),
		}, pulumi.DependsOn(apiDeps)); err != nil {
			return err
		}

		// Firestore database ids need at least four characters.
		db, err := firestore.NewDatabase(ctx, s.prefix+"-firestore", &firestore.DatabaseArgs{
			Name:                     pulumi.String(s.prefix),
			LocationId:               pulumi.String(s.region),
			Type:                     pulumi.String("FIRESTORE_NATIVE"),
			ConcurrencyMode:          pulumi.String("OPTIMISTIC"),
			AppEngineIntegrationMode: pulumi.String("DISABLED"),
		}, pulumi.DependsOn(apiDeps))
		if err != nil {
			return err
		}

		sa, iamDeps, err := serviceAccount(ctx, s, apiDeps)
		if err != nil {
			return err
		}

		subnet, ip, err := network(ctx, s, apiDeps)
		if err != nil {
			return err
		}

		instance, err := compute.NewInstance(ctx, s.prefix+"-instance", &compute.InstanceArgs{
			Name:        pulumi.String(s.prefix + "-instance"),
			MachineType: pulumi.String(s.machineType),
			Zone:        pulumi.String(s.zone),
			Tags:        pulumi.StringArray{pulumi.String(serverTag)},
			BootDisk: &compute.InstanceBootDiskArgs{
				InitializeParams: &compute.InstanceBootDiskInitializeParamsArgs{
					Image: pulumi.String("cos-cloud/cos-stable"),
					Size:  pulumi.Int(10),
					Type:  pulumi.String("pd-standard"),
				},
			},
			NetworkInterfaces: compute.InstanceNetworkInterfaceArray{
				&compute.InstanceNetworkInterfaceArgs{
					Subnetwork: subnet.ID(),
					AccessConfigs: compute.InstanceNetworkInterfaceAccessConfigArray{
						&compute.InstanceNetworkInterfaceAccessConfigArgs{NatIp: ip.Address},
					},
				},
			},
			ServiceAccount: &compute.InstanceServiceAccountArgs{
				Email:  sa.Email,
				Scopes: pulumi.StringArray{pulumi.String("https://www.googleapis.com/auth/cloud-platform")},
			},
			Metadata: pulumi.StringMap{
				"quakecast-image":       pulumi.Sprintf("%s-docker.pkg.dev/%s/quakecast/quakecast:latest", s.region, s.project),
				"quakecast-feed":        pulumi.String(s.feedURL),
				"quakecast-feed-bearer": s.feedBearer,
				"quakecast-admin-user":  pulumi.String(s.adminUser),
				"quakecast-admin-pass":  s.adminPass,
				"quakecast-project":     pulumi.String(s.project),
				"quakecast-database":    db.Name,
				"quakecast-domain":      pulumi.String(s.domain),
			},
			MetadataStartupScript:  startupScript(s.region),
			AllowStoppingForUpdate: pulumi.Bool(true),
			Description:            pulumi.String(fmt.Sprintf("quakecast %s overlay server", s.env)),
		}, pulumi.DependsOn(iamDeps))
		if err != nil {
			return err
		}

		ctx.Export("registryUrl", pulumi.Sprintf("%s-docker.pkg.dev/%s/quakecast", s.region, s.project))
		ctx.Export("instanceName", instance.Name)
		ctx.Export("externalIp", ip.Address)
		ctx.Export("firestoreDatabase", db.Name)
		ctx.Export("serviceAccountEmail", sa.Email)
		ctx.Export("sshCommand", pulumi.Sprintf("gcloud compute ssh %s --zone=%s --tunnel-through-iap", instance.Name, s.zone))
		if s.domain != "" {
			ctx.Export("overlayUrl", pulumi.Sprintf("https://%s/", s.domain))
		}
		return nil
	})
}

func enableAPIs(ctx *pulumi.Context, s settings) ([]pulumi.Resource, error) {
	apis := []string{
		"compute.googleapis.com",
		"artifactregistry.googleapis.com",
		"firestore.googleapis.com",
		"iam.googleapis.com",
	}
	deps := make([]pulumi.Resource, 0, len(apis))
	for _, api := range apis {
		svc, err := projects.NewService(ctx, fmt.Sprintf("%s-enable-%s", s.prefix, api), &projects.ServiceArgs{
			Service:                  pulumi.String(api),
			DisableDependentServices: pulumi.Bool(false),
			DisableOnDestroy:         pulumi.Bool(false),
		})
		if err != nil {
			return nil, err
		}
		deps = append(deps, svc)
	}
	return deps, nil
}

func serviceAccount(ctx *pulumi.Context, s settings, deps []pulumi.Resource) (*serviceaccount.Account, []pulumi.Resource, error) {
	sa, err := serviceaccount.NewAccount(ctx, s.prefix+"-sa", &serviceaccount.AccountArgs{
		AccountId:   pulumi.String(s.prefix + "-vm"),
		DisplayName: pulumi.String("quakecast " + s.env + " instance"),
	}, pulumi.DependsOn(deps))
	if err != nil {
		return nil, nil, err
	}

	roles := map[string]string{
		"registry-reader": "roles/artifactregistry.reader",
		"firestore-user":  "roles/datastore.user",
		"logging-writer":  "roles/logging.logWriter",
	}
	bindings := make([]pulumi.Resource, 0, len(roles))
	for name, role := range roles {
		b, err := projects.NewIAMMember(ctx, fmt.Sprintf("%s-sa-%s", s.prefix, name), &projects.IAMMemberArgs{
			Project: pulumi.String(s.project),
			Role:    pulumi.String(role),
			Member:  pulumi.Sprintf("serviceAccount:%s", sa.Email),
		})
		if err != nil {
			return nil, nil, err
		}
		bindings = append(bindings, b)
	}
	return sa, bindings, nil
}

// network creates the VPC, NAT egress for the feed connection, firewall rules
// and a static address.
func network(ctx *pulumi.Context, s settings, deps []pulumi.Resource) (*compute.Subnetwork, *compute.Address, error) {
	vpc, err := compute.NewNetwork(ctx, s.prefix+"-network", &compute.NetworkArgs{
		AutoCreateSubnetworks: pulumi.Bool(false),
	}, pulumi.DependsOn(deps))
	if err != nil {
		return nil, nil, err
	}
	subnet, err := compute.NewSubnetwork(ctx, s.prefix+"-subnet", &compute.SubnetworkArgs{
		IpCidrRange: pulumi.String("10.10.0.0/24"),
		Region:      pulumi.String(s.region),
		Network:     vpc.ID(),
	})
	if err != nil {
		return nil, nil, err
	}

	rules := []struct {
		name    string
		ports   []string
		sources []string
	}{
		{"allow-web", []string{"80", "443"}, []string{"0.0.0.0/0"}},
		// Identity-Aware Proxy
		{"allow-iap-ssh", []string{"22"}, []string{"35.235.240.0/20"}},
	}
	for _, r := range rules {
		if _, err := compute.NewFirewall(ctx, s.prefix+"-"+r.name, &compute.FirewallArgs{
			Network: vpc.Name,
			Allows: compute.FirewallAllowArray{
				&compute.FirewallAllowArgs{
					Protocol: pulumi.String("tcp"),
					Ports:    pulumi.ToStringArray(r.ports),
				},
			},
			SourceRanges: pulumi.ToStringArray(r.sources),
			TargetTags:   pulumi.StringArray{pulumi.String(serverTag)},
		}); err != nil {
			return nil, nil, err
		}
	}

	router, err := compute.NewRouter(ctx, s.prefix+"-router", &compute.RouterArgs{
		Network: vpc.ID(),
		Region:  pulumi.String(s.region),
	})
	if err != nil {
		return nil, nil, err
	}
	if _, err := compute.NewRouterNat(ctx, s.prefix+"-nat", &compute.RouterNatArgs{
		Router:                        router.Name,
		Region:                        pulumi.String(s.region),
		NatIpAllocateOption:           pulumi.String("AUTO_ONLY"),
		SourceSubnetworkIpRangesToNat: pulumi.String("ALL_SUBNETWORKS_ALL_IP_RANGES"),
	}); err != nil {
		return nil, nil, err
	}

	ip, err := compute.NewAddress(ctx, s.prefix+"-ip", &compute.AddressArgs{
		Region:      pulumi.String(s.region),
		AddressType: pulumi.String("EXTERNAL"),
	})
	if err != nil {
		return nil, nil, err
	}
	return subnet, ip, nil
}

// startupScript runs quakecast and, when a domain is set, Caddy in front of
// it. Values are read from instance metadata.
func startupScript(region string) pulumi.StringOutput {
	return pulumi.Sprintf(`#!/bin/bash
set -e
export HOME=/home/chronos

md() {
  curl -sf "http://metadata.google.internal/computeMetadata/v1/instance/attributes/$1" -H "Metadata-Flavor: Google"
}

IMAGE=$(md quakecast-image)
DOMAIN=$(md quakecast-domain || true)

docker-credential-gcr configure-docker --registries=%s-docker.pkg.dev
docker pull ${IMAGE}

docker rm -f quakecast caddy 2>/dev/null || true
docker network create quakecast-net 2>/dev/null || true

docker run -d \
  --name quakecast \
  --restart=always \
  --network quakecast-net \
  -e QUAKECAST_FEED_ENDPOINT="$(md quakecast-feed)" \
  -e QUAKECAST_FEED_BEARER="$(md quakecast-feed-bearer || true)" \
  -e QUAKECAST_ADMIN_USER="$(md quakecast-admin-user)" \
  -e QUAKECAST_ADMIN_PASS="$(md quakecast-admin-pass)" \
  -e QUAKECAST_STORE_TYPE=firestore \
  -e QUAKECAST_STORE_PROJECT_ID="$(md quakecast-project)" \
  -e QUAKECAST_STORE_DATABASE="$(md quakecast-database)" \
  -e QUAKECAST_LOG_JSON=true \
  ${IMAGE} serve

if [ -n "${DOMAIN}" ]; then
  docker run -d \
    --name caddy \
    --restart=always \
    --network quakecast-net \
    -p 80:80 -p 443:443 \
    -v /home/chronos/caddy_data:/data \
    caddy caddy reverse-proxy --from ${DOMAIN} --to quakecast:8080
fi
`, region)
}
