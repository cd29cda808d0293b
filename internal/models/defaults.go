package models

import "github.com/constructa/erp/backend/pkg/configvalue"

// DefaultsVersion identifies the default settings set below. Bump it whenever
// rows are added or changed so seeded databases can be told apart.
const DefaultsVersion = "2024.3"

// DefaultConfigs returns a fresh copy of the default settings set.
func DefaultConfigs() []ConfigRecord {
	rows := []ConfigRecord{
		// general
		{Module: "general", Key: "company_name", Value: "Construction ERP", Type: configvalue.TypeString, Label: "Company Name", IsPublic: true},
		{Module: "general", Key: "currency", Value: "USD", Type: configvalue.TypeString, Label: "Currency", Description: "ISO 4217 code used for all amounts", IsPublic: true},
		{Module: "general", Key: "timezone", Value: "UTC", Type: configvalue.TypeString, Label: "Timezone"},
		{Module: "general", Key: "date_format", Value: "DD.MM.YYYY", Type: configvalue.TypeString, Label: "Date Format", IsPublic: true},
		{Module: "general", Key: "defaults_version", Value: DefaultsVersion, Type: configvalue.TypeString, Label: "Defaults Version"},

		// branding
		{Module: "branding", Key: "primary_color", Value: "#3b82f6", Type: configvalue.TypeColor, Label: "Primary Color", IsPublic: true},
		{Module: "branding", Key: "secondary_color", Value: "#64748b", Type: configvalue.TypeColor, Label: "Secondary Color", IsPublic: true},
		{Module: "branding", Key: "logo_url", Value: "", Type: configvalue.TypeString, Label: "Logo URL", IsPublic: true},

		// projects
		{Module: "projects", Key: "auto_progress", Value: "true", Type: configvalue.TypeBoolean, Label: "Automatic Progress", Description: "Derive project progress from completed tasks"},
		{Module: "projects", Key: "task_statuses", Value: `["TODO","IN_PROGRESS","REVIEW","DONE"]`, Type: configvalue.TypeList, Label: "Task Statuses"},
		{Module: "projects", Key: "default_budget_alert_percent", Value: "80", Type: configvalue.TypeNumber, Label: "Budget Alert Threshold (%)"},

		// workers
		{Module: "workers", Key: "daily_working_hours", Value: "8", Type: configvalue.TypeNumber, Label: "Daily Working Hours"},
		{Module: "workers", Key: "overtime_multiplier", Value: "1.5", Type: configvalue.TypeNumber, Label: "Overtime Multiplier"},
		{Module: "workers", Key: "salary_payment_day", Value: "1", Type: configvalue.TypeNumber, Label: "Salary Payment Day"},

		// equipment
		{Module: "equipment", Key: "maintenance_interval_days", Value: "90", Type: configvalue.TypeNumber, Label: "Maintenance Interval (days)"},
		{Module: "equipment", Key: "categories", Value: `["EXCAVATOR","CRANE","TRUCK","GENERATOR","OTHER"]`, Type: configvalue.TypeList, Label: "Equipment Categories"},

		// finance
		{Module: "finance", Key: "vat_rate", Value: "20", Type: configvalue.TypeNumber, Label: "VAT Rate (%)"},
		{Module: "finance", Key: "invoice_prefix", Value: "INV-", Type: configvalue.TypeString, Label: "Invoice Prefix"},
		{Module: "finance", Key: "payment_terms", Value: `{"default_days":30,"early_discount_percent":2}`, Type: configvalue.TypeJSON, Label: "Payment Terms"},

		// ui
		{Module: "ui", Key: "enabled_modules", Value: `["projects","workers","equipment","finance","tasks"]`, Type: configvalue.TypeList, Label: "Enabled Modules", IsPublic: true},
		{Module: "ui", Key: "items_per_page", Value: "20", Type: configvalue.TypeNumber, Label: "Items Per Page", IsPublic: true},

		// permissions
		{Module: "permissions", Key: "can_delete_projects", Value: `["ADMIN"]`, Type: configvalue.TypeList, Label: "Roles allowed to delete projects"},
		{Module: "permissions", Key: "can_manage_salaries", Value: `["ADMIN","ACCOUNTANT"]`, Type: configvalue.TypeList, Label: "Roles allowed to manage salaries"},
		{Module: "permissions", Key: "can_edit_settings", Value: `["ADMIN"]`, Type: configvalue.TypeList, Label: "Roles allowed to edit settings"},

		// system
		{Module: "system", Key: "log_retention_days", Value: "30", Type: configvalue.TypeNumber, Label: "Audit Log Retention Days"},
	}
	for i := range rows {
		rows[i].UpdatedBy = "system"
	}
	return rows
}
