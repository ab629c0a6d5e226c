package document

import (
	"github.com/smallbiznis/kantoor/internal/document/repository"
	"github.com/smallbiznis/kantoor/internal/document/service"
	"go.uber.org/fx"
)

var Module = fx.Module("document.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
